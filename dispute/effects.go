package dispute

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"disputeflow/agreement"
)

// StatusChangedTopic carries one StatusChanged event per committed transition.
const StatusChangedTopic = "dispute.status_changed"

// StatusChanged is the event published after a status transition commits.
type StatusChanged struct {
	DisputeID  string    `json:"dispute_id"`
	Operation  string    `json:"operation"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
	ActorID    string    `json:"actor_id"`
	Version    int       `json:"agreement_version"`
	Revision   int64     `json:"revision"`
	OccurredAt time.Time `json:"occurred_at"`
}

type notice struct {
	userID  string
	kind    string
	title   string
	message string
	link    string
}

type email struct {
	to      string
	subject string
	body    string
}

type recipients int

const (
	toPlaintiff recipients = 1 << iota
	toDefendant
	toAdmins
)

// effectTimeout bounds the delivery of one change's side effects.
const effectTimeout = 30 * time.Second

// dispatch hands the notifications, emails and events for a committed change
// to a background goroutine. Deliveries for one dispute run in commit order.
// Failures are logged and never reach the caller.
func (s *Service) dispatch(ctx context.Context, caller Identity, op string, before, after Dispute) {
	done := make(chan struct{})
	s.effectsMu.Lock()
	prev := s.pending[after.ID]
	s.pending[after.ID] = done
	s.effectsMu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			s.effectsMu.Lock()
			if s.pending[after.ID] == done {
				delete(s.pending, after.ID)
			}
			s.effectsMu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "effect delivery panicked", "operation", op, "panic", r)
			}
		}()
		s.deliver(ctx, caller, op, before, after)
	}()
}

// Wait blocks until every dispatched delivery has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) deliver(ctx context.Context, caller Identity, op string, before, after Dispute) {
	notices, emails := s.effectsFor(ctx, caller, op, before, after)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, n := range notices {
		g.Go(func() error {
			if err := s.notifier.Notify(gctx, n.userID, n.kind, n.title, n.message, n.link); err != nil {
				slog.WarnContext(ctx, "notification delivery failed", "kind", n.kind, "recipient", n.userID, "error", err)
			}
			return nil
		})
	}
	for _, e := range emails {
		g.Go(func() error {
			if err := s.mailer.Send(gctx, e.to, e.subject, e.body); err != nil {
				slog.WarnContext(ctx, "email delivery failed", "subject", e.subject, "error", err)
			}
			return nil
		})
	}
	if before.Status != after.Status {
		g.Go(func() error {
			s.publish(gctx, caller, op, before, after)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) publish(ctx context.Context, caller Identity, op string, before, after Dispute) {
	payload, err := json.Marshal(StatusChanged{
		DisputeID:  after.ID,
		Operation:  op,
		From:       before.Status,
		To:         after.Status,
		ActorID:    caller.ID,
		Version:    after.Agreement.Version,
		Revision:   after.Revision,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "encode status event", "error", err)
		return
	}
	if err := s.events.Publish(ctx, StatusChangedTopic, after.ID, payload); err != nil {
		slog.WarnContext(ctx, "status event publish failed", "error", err)
	}
}

func (s *Service) effectsFor(ctx context.Context, caller Identity, op string, before, after Dispute) ([]notice, []email) {
	title := after.Title
	disputeLink := "/dispute/" + after.ID

	var (
		notices []notice
		emails  []email
	)
	notify := func(who recipients, kind, heading, message, link string) {
		for _, id := range s.recipientIDs(ctx, after, who) {
			if id == caller.ID {
				continue
			}
			notices = append(notices, notice{userID: id, kind: kind, title: heading, message: message, link: link})
		}
	}
	mailTo := func(who recipients, subject, heading, message string) {
		if who&toPlaintiff != 0 && after.CreatorEmail != "" {
			emails = append(emails, email{to: after.CreatorEmail, subject: subject, body: s.renderEmail(heading, message, after.ID)})
		}
		if who&toDefendant != 0 && after.DefendantEmail != "" {
			emails = append(emails, email{to: after.DefendantEmail, subject: subject, body: s.renderEmail(heading, message, after.ID)})
		}
	}
	other := toDefendant
	actorLabel, actorTitle := "The plaintiff", "Plaintiff"
	if role, ok := after.RoleOf(caller.ID, caller.Email); ok && role == agreement.RoleDefendant {
		other = toPlaintiff
		actorLabel, actorTitle = "The defendant", "Defendant"
	}

	switch op {
	case "create":
		notify(toDefendant, "dispute_filed", "New Dispute Filed Against You",
			fmt.Sprintf("%s has filed a dispute against you: '%s'.", after.CreatorEmail, title), disputeLink)
		mailTo(toDefendant, "New Dispute Filed Against You - "+title, "A dispute has been filed against you",
			fmt.Sprintf("%s has filed the dispute '%s'. Please sign in to respond.", after.CreatorEmail, title))
		mailTo(toPlaintiff, "Dispute Filed Successfully - "+title, "Your dispute has been filed",
			fmt.Sprintf("We have notified %s about '%s'.", after.DefendantEmail, title))

	case "accept":
		notify(toPlaintiff, "dispute_accepted", "Dispute Accepted",
			fmt.Sprintf("The defendant has accepted '%s'. Negotiation can begin.", title), disputeLink)
		mailTo(toPlaintiff, "Dispute Accepted - "+title, "Your dispute was accepted",
			fmt.Sprintf("%s accepted '%s'.", after.DefendantEmail, title))

	case "reject":
		notify(toPlaintiff, "dispute_rejected", "Dispute Rejected",
			fmt.Sprintf("The defendant has rejected '%s'.", title), disputeLink)
		mailTo(toPlaintiff, "Dispute Rejected - "+title, "Your dispute was rejected",
			fmt.Sprintf("%s declined to take part in '%s'.", after.DefendantEmail, title))

	case "propose":
		notify(other, "proposal_received", "New Resolution Proposal",
			fmt.Sprintf("%s has proposed a resolution for '%s'. Please review.", actorLabel, title), disputeLink)
		mailTo(other, actorTitle+" Proposed a Resolution - "+title, "A resolution was proposed",
			fmt.Sprintf("%s proposed: %s", actorLabel, after.ResolutionText))

	case "sign":
		if after.Status == StatusPendingApproval && before.Status != StatusPendingApproval {
			notify(toAdmins, "pending_approval", "New Resolution Pending Approval",
				fmt.Sprintf("Both parties have agreed to a resolution for '%s'. Please review and approve.", title),
				"/admin/approvals/"+after.ID)
			notify(toPlaintiff|toDefendant, "pending_approval", "Resolution Sent for Approval",
				fmt.Sprintf("Both parties signed version %d of '%s'.", after.Agreement.Version, title), disputeLink)
		} else {
			notify(other, "agreement_signed", "Resolution Signed",
				fmt.Sprintf("%s signed version %d of the resolution for '%s'.", actorLabel, after.Agreement.Version, title), disputeLink)
		}

	case "escalate":
		if after.Status == StatusEscalated {
			notify(toAdmins, "dispute_escalated", "Dispute Escalated",
				fmt.Sprintf("Both parties requested manual review of '%s'.", title), "/admin/escalations/"+after.ID)
			notify(toPlaintiff|toDefendant, "dispute_escalated", "Dispute Escalated",
				fmt.Sprintf("'%s' has been handed to an administrator.", title), disputeLink)
		} else {
			notify(other, "escalation_requested", "Escalation Requested",
				fmt.Sprintf("%s asked to escalate '%s' to manual review.", actorLabel, title), disputeLink)
		}

	case "drop":
		notify(other, "dispute_dropped", "Dispute Dropped",
			fmt.Sprintf("%s dropped '%s'.", actorLabel, title), disputeLink)
		mailTo(other, "Dispute Dropped - "+title, "A dispute was dropped",
			fmt.Sprintf("%s withdrew '%s'. No further action is needed.", actorLabel, title))

	case "approve", "resolve_escalation":
		notify(toPlaintiff|toDefendant, "resolution_approved", "Resolution Approved",
			fmt.Sprintf("The resolution for '%s' has been approved.", title), disputeLink)
		mailTo(toPlaintiff|toDefendant, "Resolution Approved - "+title, "The resolution was approved",
			after.ResolutionText)

	case "reject_resolution":
		message := fmt.Sprintf("The resolution for '%s' requires revision.", title)
		if after.AdminNotes != "" {
			message += " Notes: " + after.AdminNotes
		}
		notify(toPlaintiff|toDefendant, "resolution_rejected", "Resolution Requires Revision", message, disputeLink)
		mailTo(toPlaintiff|toDefendant, "Resolution Requires Revision - "+title, "The resolution needs revision", message)

	case "message":
		notify(other, "new_message", "New Message",
			fmt.Sprintf("%s sent a message in '%s'.", actorLabel, title), disputeLink)
	}

	return notices, emails
}

func (s *Service) recipientIDs(ctx context.Context, d Dispute, who recipients) []string {
	ids := make([]string, 0, 2)
	if who&toPlaintiff != 0 && d.PlaintiffUserID != "" {
		ids = append(ids, d.PlaintiffUserID)
	}
	if who&toDefendant != 0 {
		if d.DefendantUserID != nil {
			ids = append(ids, *d.DefendantUserID)
		} else if id, ok, err := s.directory.UserIDByEmail(ctx, d.DefendantEmail); err != nil {
			slog.WarnContext(ctx, "defendant lookup failed", "error", err)
		} else if ok {
			ids = append(ids, id)
		}
	}
	if who&toAdmins != 0 {
		admins, err := s.directory.AdminIDs(ctx)
		if err != nil {
			slog.WarnContext(ctx, "admin lookup failed", "error", err)
		}
		ids = append(ids, admins...)
	}
	return ids
}

func (s *Service) renderEmail(heading, message, disputeID string) string {
	link := s.baseURL + "/dispute/" + disputeID
	return fmt.Sprintf(`<html><body><h2>%s</h2><p>%s</p><p><a href="%s">View dispute</a></p></body></html>`,
		html.EscapeString(heading), html.EscapeString(message), html.EscapeString(link))
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, string, string, string) error { return nil }

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, string) error { return nil }

type nopDirectory struct{}

func (nopDirectory) UserIDByEmail(context.Context, string) (string, bool, error) { return "", false, nil }

func (nopDirectory) AdminIDs(context.Context) ([]string, error) { return nil, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, []byte) error { return nil }

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
