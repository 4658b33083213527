package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"disputeflow/agreement"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/logger"
	"disputeflow/notification"
	"disputeflow/suggestion"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

type disputeService interface {
	Create(ctx context.Context, caller dispute.Identity, req dispute.CreateRequest) (dispute.Dispute, error)
	Get(ctx context.Context, caller dispute.Identity, id string) (dispute.Dispute, error)
	ListFiled(ctx context.Context, caller dispute.Identity) ([]dispute.Dispute, error)
	ListAgainst(ctx context.Context, caller dispute.Identity) ([]dispute.Dispute, error)
	ListAll(ctx context.Context, caller dispute.Identity, status dispute.Status) ([]dispute.Dispute, error)
	Stats(ctx context.Context, caller dispute.Identity) (dispute.Stats, error)
	Delete(ctx context.Context, caller dispute.Identity, id string) error
	Accept(ctx context.Context, caller dispute.Identity, id string) (dispute.Dispute, error)
	Reject(ctx context.Context, caller dispute.Identity, id string) (dispute.Dispute, error)
	ProposeResolution(ctx context.Context, caller dispute.Identity, id, text string) (dispute.Dispute, error)
	Sign(ctx context.Context, caller dispute.Identity, id string, req dispute.SignRequest) (dispute.Dispute, agreement.SignatureRecord, error)
	Escalate(ctx context.Context, caller dispute.Identity, id, reason string) (dispute.Dispute, error)
	Drop(ctx context.Context, caller dispute.Identity, id string) (dispute.Dispute, error)
	Approve(ctx context.Context, caller dispute.Identity, id, notes string) (dispute.Dispute, error)
	RejectResolution(ctx context.Context, caller dispute.Identity, id, notes string) (dispute.Dispute, error)
	ResolveEscalation(ctx context.Context, caller dispute.Identity, id, resolution, notes string) (dispute.Dispute, error)
	Agreement(ctx context.Context, caller dispute.Identity, id string) (agreement.Document, error)
	SignaturesForVersion(ctx context.Context, caller dispute.Identity, id string, version int) ([]agreement.SignatureRecord, error)
	PostMessage(ctx context.Context, caller dispute.Identity, id, content string) (dispute.Message, error)
	Messages(ctx context.Context, caller dispute.Identity, id string) ([]dispute.Message, error)
}

type suggestionService interface {
	Generate(ctx context.Context, disputeID string, force bool) suggestion.Result
}

type notificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Server exposes the dispute workflow over HTTP.
type Server struct {
	auth          authService
	disputes      disputeService
	suggestions   suggestionService
	notifications notificationService
	metrics       http.Handler
	corsOrigins   []string
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}) })
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/disputes", func(r chi.Router) {
				r.Post("/", s.handleCreateDispute)
				r.Get("/filed", s.handleListFiled)
				r.Get("/against", s.handleListAgainst)
				r.Get("/stats", s.handleStats)

				r.Route("/{disputeID}", func(r chi.Router) {
					r.Get("/", s.handleGetDispute)
					r.Delete("/", s.handleDeleteDispute)
					r.Post("/accept", s.handleAccept)
					r.Post("/reject", s.handleReject)
					r.Post("/resolution", s.handleProposeResolution)
					r.Post("/sign", s.handleSign)
					r.Post("/escalate", s.handleEscalate)
					r.Post("/drop", s.handleDrop)
					r.Get("/agreement", s.handleAgreement)
					r.Get("/agreement/versions/{version}/signatures", s.handleSignatures)
					r.Get("/messages", s.handleListMessages)
					r.Post("/messages", s.handlePostMessage)
					r.Post("/suggestions", s.handleSuggestions)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Get("/unread-count", s.handleUnreadCount)
				r.Post("/read-all", s.handleMarkAllRead)
				r.Post("/{notificationID}/read", s.handleMarkRead)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/disputes", s.handleListAll)
				r.Get("/stats", s.handleStats)
				r.Post("/disputes/{disputeID}/approve", s.handleApprove)
				r.Post("/disputes/{disputeID}/reject", s.handleRejectResolution)
				r.Post("/disputes/{disputeID}/resolve", s.handleResolveEscalation)
			})
		})
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		identity, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, identity.ID)
		ctx = context.WithValue(ctx, ctxKeyEmail, identity.Email)
		ctx = context.WithValue(ctx, ctxKeyRole, string(identity.Role))
		ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &identity.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFromContext(r.Context()).IsAdmin {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) bool {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
