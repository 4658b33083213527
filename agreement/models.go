package agreement

import "time"

// PartyRole identifies which side of a dispute produced a signature.
type PartyRole string

const (
	RolePlaintiff PartyRole = "plaintiff"
	RoleDefendant PartyRole = "defendant"
)

// Valid reports whether r is one of the two dispute parties.
func (r PartyRole) Valid() bool {
	switch r {
	case RolePlaintiff, RoleDefendant:
		return true
	default:
		return false
	}
}

// Other returns the opposing party role.
func (r PartyRole) Other() PartyRole {
	if r == RolePlaintiff {
		return RoleDefendant
	}
	return RolePlaintiff
}

// SignatureType describes how a signature was captured.
type SignatureType string

const (
	SignatureTyped SignatureType = "TYPED"
	SignatureDrawn SignatureType = "DRAWN"
)

// Content holds the fields that define what the parties agree to. Timestamps,
// status and other metadata are deliberately absent so the hash only moves
// when the negotiated terms move.
type Content struct {
	DisputeID      string
	Title          string
	Description    string
	Category       string
	ResolutionText string
}

// SignatureRecord is an immutable e-signature over one document version.
type SignatureRecord struct {
	ID                 string
	PartyRole          PartyRole
	UserID             string
	Email              string
	SignatureType      SignatureType
	TypedName          string
	SignatureImageData string
	DocumentHash       string
	Version            int
	SignedAt           time.Time
	IPAddress          string
	UserAgent          string
}

// Document carries the versioned agreement state of a dispute.
type Document struct {
	Version    int
	Hash       string
	Signatures []SignatureRecord
}

// NewDocument returns the state of a freshly filed dispute: version 1 with no
// content hash adopted yet.
func NewDocument() Document {
	return Document{Version: 1}
}

// SignaturesFor returns the signatures recorded against version.
func (d Document) SignaturesFor(version int) []SignatureRecord {
	out := make([]SignatureRecord, 0, 2)
	for _, sig := range d.Signatures {
		if sig.Version == version {
			out = append(out, sig)
		}
	}
	return out
}

// HasSigned reports whether role already signed version.
func (d Document) HasSigned(role PartyRole, version int) bool {
	for _, sig := range d.Signatures {
		if sig.PartyRole == role && sig.Version == version {
			return true
		}
	}
	return false
}

// Clone returns a copy whose signature slice does not alias d.
func (d Document) Clone() Document {
	out := d
	if d.Signatures != nil {
		out.Signatures = make([]SignatureRecord, len(d.Signatures))
		copy(out.Signatures, d.Signatures)
	}
	return out
}
