package agreement

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Hash returns the hex SHA-256 digest of the canonical encoding of c.
//
// The canonical form is a JSON object with the keys id, title, description,
// category and resolution_text. encoding/json writes map keys in sorted order
// and emits no insignificant whitespace, so equal field values always encode
// to the same bytes.
func Hash(c Content) string {
	b, err := json.Marshal(map[string]string{
		"id":              c.DisputeID,
		"title":           c.Title,
		"description":     c.Description,
		"category":        c.Category,
		"resolution_text": c.ResolutionText,
	})
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Refresh recomputes the content hash and adopts it. The first hash over a
// non-empty resolution is adopted as the current version without a bump; every
// later change increments the version by exactly one. It reports whether the
// version changed.
func (d *Document) Refresh(c Content) bool {
	if d.Version < 1 {
		d.Version = 1
	}
	if d.Hash == "" {
		if strings.TrimSpace(c.ResolutionText) == "" {
			return false
		}
		d.Hash = Hash(c)
		return false
	}

	next := Hash(c)
	if next == d.Hash {
		return false
	}
	d.Version++
	d.Hash = next
	return true
}

// Matches reports whether the record was made over exactly content c.
func (r SignatureRecord) Matches(c Content) bool {
	return Hash(c) == r.DocumentHash
}
