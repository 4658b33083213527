package dispute

import (
	"time"

	"disputeflow/agreement"
)

// Status represents the lifecycle of a dispute.
type Status string

const (
	StatusOpen            Status = "Open"
	StatusInProgress      Status = "InProgress"
	StatusPendingApproval Status = "PendingApproval"
	StatusResolved        Status = "Resolved"
	StatusRejected        Status = "Rejected"
	StatusEscalated       Status = "Escalated"
	StatusDropped         Status = "Dropped"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusOpen,
	StatusInProgress,
	StatusPendingApproval,
	StatusResolved,
	StatusRejected,
	StatusEscalated,
	StatusDropped,
}

func (s Status) Valid() bool {
	for _, candidate := range AllStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Terminal reports whether no party action can move the dispute further.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusRejected, StatusEscalated, StatusDropped:
		return true
	default:
		return false
	}
}

// Negotiable reports whether parties may still change or sign the resolution.
func (s Status) Negotiable() bool {
	return s == StatusOpen || s == StatusInProgress
}

// Suggestion is one AI-generated settlement option.
type Suggestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Dispute is the aggregate persisted in the disputes table. Agreement carries
// the versioned document and its append-only signatures.
type Dispute struct {
	ID                        string
	PlaintiffUserID           string
	CreatorEmail              string
	DefendantEmail            string
	DefendantUserID           *string
	Title                     string
	Description               string
	Category                  string
	EvidenceText              string
	AmountDisputed            string
	Status                    Status
	ResolutionText            string
	PlaintiffAgreed           bool
	DefendantAgreed           bool
	PlaintiffEscalated        bool
	DefendantEscalated        bool
	PlaintiffEscalationReason string
	DefendantEscalationReason string
	Agreement                 agreement.Document
	AIAnalysis                string
	AISuggestions             []Suggestion
	AdminID                   *string
	AdminNotes                string
	DroppedBy                 *agreement.PartyRole
	Revision                  int64

	CreatedAt            time.Time
	UpdatedAt            time.Time
	AcceptedAt           *time.Time
	RejectedAt           *time.Time
	DroppedAt            *time.Time
	EscalatedAt          *time.Time
	PendingApprovalSince *time.Time
	ResolvedAt           *time.Time
}

// Content returns the hashed agreement fields of d.
func (d Dispute) Content() agreement.Content {
	return agreement.Content{
		DisputeID:      d.ID,
		Title:          d.Title,
		Description:    d.Description,
		Category:       d.Category,
		ResolutionText: d.ResolutionText,
	}
}

// RoleOf returns the party role held by the caller, if any. The plaintiff is
// matched by user id and the defendant by email, since the defendant may not
// have an account when the dispute is filed.
func (d Dispute) RoleOf(userID, email string) (agreement.PartyRole, bool) {
	if userID != "" && userID == d.PlaintiffUserID {
		return agreement.RolePlaintiff, true
	}
	if email != "" && sameEmail(email, d.DefendantEmail) {
		return agreement.RoleDefendant, true
	}
	return "", false
}

func (d Dispute) escalated(role agreement.PartyRole) bool {
	if role == agreement.RolePlaintiff {
		return d.PlaintiffEscalated
	}
	return d.DefendantEscalated
}

func (d *Dispute) setEscalated(role agreement.PartyRole, v bool, reason string) {
	if role == agreement.RolePlaintiff {
		d.PlaintiffEscalated = v
		d.PlaintiffEscalationReason = reason
	} else {
		d.DefendantEscalated = v
		d.DefendantEscalationReason = reason
	}
}

// BothAgreed is the consensus predicate that moves a dispute to PendingApproval.
func (d Dispute) BothAgreed() bool {
	return d.PlaintiffAgreed && d.DefendantAgreed
}

// BothEscalated is the predicate that moves a dispute to Escalated.
func (d Dispute) BothEscalated() bool {
	return d.PlaintiffEscalated && d.DefendantEscalated
}

// clone returns a deep copy safe to mutate without touching d.
func (d Dispute) clone() Dispute {
	out := d
	out.Agreement = d.Agreement.Clone()
	if d.AISuggestions != nil {
		out.AISuggestions = append([]Suggestion(nil), d.AISuggestions...)
	}
	return out
}

// CreateRequest carries the fields a plaintiff supplies when filing.
type CreateRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	DefendantEmail string `json:"defendant_email"`
	EvidenceText   string `json:"evidence_text"`
	AmountDisputed string `json:"amount_disputed"`
}

// Filter narrows List queries. Empty fields are ignored.
type Filter struct {
	PlaintiffUserID string
	DefendantEmail  string
	Status          Status
}

// Stats counts disputes per status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Message is one chat entry between the parties.
type Message struct {
	ID          string
	DisputeID   string
	SenderID    string
	SenderEmail string
	SenderRole  agreement.PartyRole
	Content     string
	CreatedAt   time.Time
}

// Identity is the resolved caller of an operation.
type Identity struct {
	ID      string
	Email   string
	IsAdmin bool
}
