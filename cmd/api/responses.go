package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"disputeflow/agreement"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/notification"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError maps service errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message := mapDomainError(err)
	writeError(w, status, code, message)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, dispute.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, dispute.ErrNotFound), errors.Is(err, notification.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, dispute.ErrForbidden), errors.Is(err, notification.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, dispute.ErrConflict):
		return http.StatusConflict, "VERSION_CONFLICT", err.Error()
	case errors.Is(err, dispute.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password"
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrMissingFields):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

type userResponse struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

type signatureResponse struct {
	ID                 string                  `json:"id"`
	PartyRole          agreement.PartyRole     `json:"party_role"`
	UserID             string                  `json:"user_id"`
	Email              string                  `json:"email"`
	SignatureType      agreement.SignatureType `json:"signature_type"`
	TypedName          string                  `json:"typed_name,omitempty"`
	SignatureImageData string                  `json:"signature_image_data,omitempty"`
	DocumentHash       string                  `json:"document_hash"`
	Version            int                     `json:"version"`
	SignedAt           time.Time               `json:"signed_at"`
	IPAddress          string                  `json:"ip_address,omitempty"`
	UserAgent          string                  `json:"user_agent,omitempty"`
}

func toSignatureResponse(r agreement.SignatureRecord) signatureResponse {
	return signatureResponse{
		ID:                 r.ID,
		PartyRole:          r.PartyRole,
		UserID:             r.UserID,
		Email:              r.Email,
		SignatureType:      r.SignatureType,
		TypedName:          r.TypedName,
		SignatureImageData: r.SignatureImageData,
		DocumentHash:       r.DocumentHash,
		Version:            r.Version,
		SignedAt:           r.SignedAt,
		IPAddress:          r.IPAddress,
		UserAgent:          r.UserAgent,
	}
}

func toSignatureResponses(records []agreement.SignatureRecord) []signatureResponse {
	out := make([]signatureResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toSignatureResponse(r))
	}
	return out
}

type agreementResponse struct {
	Version    int                 `json:"version"`
	Hash       string              `json:"hash"`
	Signatures []signatureResponse `json:"signatures"`
}

func toAgreementResponse(doc agreement.Document) agreementResponse {
	return agreementResponse{
		Version:    doc.Version,
		Hash:       doc.Hash,
		Signatures: toSignatureResponses(doc.SignaturesFor(doc.Version)),
	}
}

type disputeResponse struct {
	ID                        string               `json:"id"`
	PlaintiffUserID           string               `json:"plaintiff_user_id"`
	CreatorEmail              string               `json:"creator_email"`
	DefendantEmail            string               `json:"defendant_email"`
	DefendantUserID           *string              `json:"defendant_user_id,omitempty"`
	Title                     string               `json:"title"`
	Description               string               `json:"description"`
	Category                  string               `json:"category"`
	EvidenceText              string               `json:"evidence_text,omitempty"`
	AmountDisputed            string               `json:"amount_disputed,omitempty"`
	Status                    dispute.Status       `json:"status"`
	ResolutionText            string               `json:"resolution_text,omitempty"`
	PlaintiffAgreed           bool                 `json:"plaintiff_agreed"`
	DefendantAgreed           bool                 `json:"defendant_agreed"`
	PlaintiffEscalated        bool                 `json:"plaintiff_escalated"`
	DefendantEscalated        bool                 `json:"defendant_escalated"`
	PlaintiffEscalationReason string               `json:"plaintiff_escalation_reason,omitempty"`
	DefendantEscalationReason string               `json:"defendant_escalation_reason,omitempty"`
	Agreement                 agreementResponse    `json:"agreement"`
	AIAnalysis                string               `json:"ai_analysis,omitempty"`
	AISuggestions             []dispute.Suggestion `json:"ai_suggestions"`
	AdminNotes                string               `json:"admin_notes,omitempty"`
	DroppedBy                 *agreement.PartyRole `json:"dropped_by,omitempty"`
	CreatedAt                 time.Time            `json:"created_at"`
	UpdatedAt                 time.Time            `json:"updated_at"`
	AcceptedAt                *time.Time           `json:"accepted_at,omitempty"`
	RejectedAt                *time.Time           `json:"rejected_at,omitempty"`
	DroppedAt                 *time.Time           `json:"dropped_at,omitempty"`
	EscalatedAt               *time.Time           `json:"escalated_at,omitempty"`
	PendingApprovalSince      *time.Time           `json:"pending_approval_since,omitempty"`
	ResolvedAt                *time.Time           `json:"resolved_at,omitempty"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	suggestions := d.AISuggestions
	if suggestions == nil {
		suggestions = []dispute.Suggestion{}
	}
	return disputeResponse{
		ID:                        d.ID,
		PlaintiffUserID:           d.PlaintiffUserID,
		CreatorEmail:              d.CreatorEmail,
		DefendantEmail:            d.DefendantEmail,
		DefendantUserID:           d.DefendantUserID,
		Title:                     d.Title,
		Description:               d.Description,
		Category:                  d.Category,
		EvidenceText:              d.EvidenceText,
		AmountDisputed:            d.AmountDisputed,
		Status:                    d.Status,
		ResolutionText:            d.ResolutionText,
		PlaintiffAgreed:           d.PlaintiffAgreed,
		DefendantAgreed:           d.DefendantAgreed,
		PlaintiffEscalated:        d.PlaintiffEscalated,
		DefendantEscalated:        d.DefendantEscalated,
		PlaintiffEscalationReason: d.PlaintiffEscalationReason,
		DefendantEscalationReason: d.DefendantEscalationReason,
		Agreement:                 toAgreementResponse(d.Agreement),
		AIAnalysis:                d.AIAnalysis,
		AISuggestions:             suggestions,
		AdminNotes:                d.AdminNotes,
		DroppedBy:                 d.DroppedBy,
		CreatedAt:                 d.CreatedAt,
		UpdatedAt:                 d.UpdatedAt,
		AcceptedAt:                d.AcceptedAt,
		RejectedAt:                d.RejectedAt,
		DroppedAt:                 d.DroppedAt,
		EscalatedAt:               d.EscalatedAt,
		PendingApprovalSince:      d.PendingApprovalSince,
		ResolvedAt:                d.ResolvedAt,
	}
}

func toDisputeResponses(ds []dispute.Dispute) []disputeResponse {
	out := make([]disputeResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDisputeResponse(d))
	}
	return out
}

type messageResponse struct {
	ID          string              `json:"id"`
	SenderID    string              `json:"sender_id"`
	SenderEmail string              `json:"sender_email"`
	SenderRole  agreement.PartyRole `json:"sender_role"`
	Content     string              `json:"content"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toMessageResponse(m dispute.Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderEmail: m.SenderEmail,
		SenderRole:  m.SenderRole,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
}
