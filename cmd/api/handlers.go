package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"disputeflow/agreement"
	"disputeflow/auth"
	"disputeflow/dispute"
)

const maxBodyBytes = 2 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	var req dispute.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.disputes.Create(r.Context(), callerFromContext(r.Context()), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Get(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleListFiled(w http.ResponseWriter, r *http.Request) {
	ds, err := s.disputes.ListFiled(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponses(ds))
}

func (s *Server) handleListAgainst(w http.ResponseWriter, r *http.Request) {
	ds, err := s.disputes.ListAgainst(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponses(ds))
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	status := dispute.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status")
		return
	}
	ds, err := s.disputes.ListAll(r.Context(), callerFromContext(r.Context()), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponses(ds))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.disputes.Stats(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeleteDispute(w http.ResponseWriter, r *http.Request) {
	if err := s.disputes.Delete(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Accept(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"))
	s.writeDispute(w, d, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Reject(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"))
	s.writeDispute(w, d, err)
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Drop(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"))
	s.writeDispute(w, d, err)
}

type resolutionRequest struct {
	ResolutionText string `json:"resolution_text"`
}

func (s *Server) handleProposeResolution(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.disputes.ProposeResolution(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), req.ResolutionText)
	s.writeDispute(w, d, err)
}

type signRequest struct {
	PartyRole          agreement.PartyRole     `json:"party_role"`
	SignatureType      agreement.SignatureType `json:"signature_type"`
	TypedName          string                  `json:"typed_name"`
	SignatureImageData string                  `json:"signature_image_data"`
	DocumentVersion    int                     `json:"document_version"`
	DocumentHash       string                  `json:"document_hash"`
	ResolutionText     string                  `json:"resolution_text"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, rec, err := s.disputes.Sign(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), dispute.SignRequest{
		SignRequest: agreement.SignRequest{
			PartyRole:          req.PartyRole,
			SignatureType:      agreement.SignatureType(strings.ToUpper(string(req.SignatureType))),
			TypedName:          req.TypedName,
			SignatureImageData: req.SignatureImageData,
			DocumentVersion:    req.DocumentVersion,
			DocumentHash:       req.DocumentHash,
			IPAddress:          clientIP(r),
			UserAgent:          r.UserAgent(),
		},
		ResolutionText: req.ResolutionText,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dispute":   toDisputeResponse(d),
		"signature": toSignatureResponse(rec),
	})
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.disputes.Escalate(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), req.Reason)
	s.writeDispute(w, d, err)
}

type adminDecisionRequest struct {
	ResolutionText string `json:"resolution_text"`
	AdminNotes     string `json:"admin_notes"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req adminDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.disputes.Approve(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), req.AdminNotes)
	s.writeDispute(w, d, err)
}

func (s *Server) handleRejectResolution(w http.ResponseWriter, r *http.Request) {
	var req adminDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.disputes.RejectResolution(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), req.AdminNotes)
	s.writeDispute(w, d, err)
}

func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req adminDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.disputes.ResolveEscalation(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), req.ResolutionText, req.AdminNotes)
	s.writeDispute(w, d, err)
}

func (s *Server) handleAgreement(w http.ResponseWriter, r *http.Request) {
	doc, err := s.disputes.Agreement(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(doc))
}

func (s *Server) handleSignatures(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "version must be a positive integer")
		return
	}
	records, err := s.disputes.SignaturesForVersion(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), version)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSignatureResponses(records))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.disputes.Messages(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.disputes.PostMessage(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "disputeID"), req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleSuggestions always answers 200 with the analysis text; failures are
// described in the body.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "disputeID")
	if _, err := s.disputes.Get(r.Context(), callerFromContext(r.Context()), id); err != nil {
		writeDomainError(w, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	writeJSON(w, http.StatusOK, s.suggestions.Generate(r.Context(), id, force))
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	items, err := s.notifications.List(r.Context(), callerFromContext(r.Context()).ID, unreadOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.UnreadCount(r.Context(), callerFromContext(r.Context()).ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.notifications.MarkRead(r.Context(), callerFromContext(r.Context()).ID, chi.URLParam(r, "notificationID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.MarkAllRead(r.Context(), callerFromContext(r.Context()).ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) writeDispute(w http.ResponseWriter, d dispute.Dispute, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}
