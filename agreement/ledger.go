package agreement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNothingToSign signals there is no resolution text to agree to.
	ErrNothingToSign = errors.New("agreement: nothing to sign")
	// ErrVersionConflict signals the signer saw a different document version.
	ErrVersionConflict = errors.New("agreement: document version mismatch")
	// ErrAlreadySigned signals the party already signed the current version.
	ErrAlreadySigned = errors.New("agreement: party already signed this version")
	// ErrInvalidSignature signals a malformed signature payload.
	ErrInvalidSignature = errors.New("agreement: invalid signature payload")
)

// SignRequest is the signer's claim about what they are signing.
type SignRequest struct {
	PartyRole          PartyRole
	SignatureType      SignatureType
	TypedName          string
	SignatureImageData string
	DocumentVersion    int
	DocumentHash       string
	IPAddress          string
	UserAgent          string
}

// Signer is the resolved identity of the party signing.
type Signer struct {
	UserID string
	Email  string
}

// Ledger validates and appends signatures to a Document.
type Ledger struct {
	now         func() time.Time
	idGenerator func() string
}

func NewLedger() *Ledger {
	return &Ledger{
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.idGenerator = gen
	return l
}

// Sign records a signature by signer over content. The document version is
// refreshed against content before the request is checked, so a request made
// against a stale version is rejected rather than moved onto the new one. On
// any error doc is left untouched.
func (l *Ledger) Sign(doc *Document, content Content, signer Signer, req SignRequest) (SignatureRecord, error) {
	if !req.PartyRole.Valid() {
		return SignatureRecord{}, fmt.Errorf("%w: unknown party role %q", ErrInvalidSignature, req.PartyRole)
	}
	if strings.TrimSpace(content.ResolutionText) == "" {
		return SignatureRecord{}, ErrNothingToSign
	}
	if err := validatePayload(req); err != nil {
		return SignatureRecord{}, err
	}

	next := doc.Clone()
	next.Refresh(content)

	if req.DocumentVersion != next.Version || req.DocumentHash != next.Hash {
		return SignatureRecord{}, fmt.Errorf("%w: signed v%d, current v%d", ErrVersionConflict, req.DocumentVersion, next.Version)
	}
	if next.HasSigned(req.PartyRole, next.Version) {
		return SignatureRecord{}, fmt.Errorf("%w: %s on v%d", ErrAlreadySigned, req.PartyRole, next.Version)
	}

	rec := SignatureRecord{
		ID:            l.idGenerator(),
		PartyRole:     req.PartyRole,
		UserID:        signer.UserID,
		Email:         signer.Email,
		SignatureType: req.SignatureType,
		DocumentHash:  next.Hash,
		Version:       next.Version,
		SignedAt:      l.now().UTC(),
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
	}
	switch req.SignatureType {
	case SignatureTyped:
		rec.TypedName = strings.TrimSpace(req.TypedName)
	case SignatureDrawn:
		rec.SignatureImageData = req.SignatureImageData
	}

	next.Signatures = append(next.Signatures, rec)
	*doc = next
	return rec, nil
}

func validatePayload(req SignRequest) error {
	switch req.SignatureType {
	case SignatureTyped:
		if strings.TrimSpace(req.TypedName) == "" {
			return fmt.Errorf("%w: typed signature requires a name", ErrInvalidSignature)
		}
		if req.SignatureImageData != "" {
			return fmt.Errorf("%w: typed signature must not carry image data", ErrInvalidSignature)
		}
	case SignatureDrawn:
		if req.SignatureImageData == "" {
			return fmt.Errorf("%w: drawn signature requires image data", ErrInvalidSignature)
		}
		if strings.TrimSpace(req.TypedName) != "" {
			return fmt.Errorf("%w: drawn signature must not carry a typed name", ErrInvalidSignature)
		}
	default:
		return fmt.Errorf("%w: unknown signature type %q", ErrInvalidSignature, req.SignatureType)
	}
	return nil
}
