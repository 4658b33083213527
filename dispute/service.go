package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"disputeflow/agreement"
	"disputeflow/logger"
	"disputeflow/metrics"
)

const (
	defaultMaxAttempts  = 3
	defaultMessageLimit = 20
)

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, title, message, link string) error
}

// Mailer delivers email. An unconfigured mailer is expected to no-op.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Directory resolves accounts referenced by a dispute.
type Directory interface {
	UserIDByEmail(ctx context.Context, email string) (string, bool, error)
	AdminIDs(ctx context.Context) ([]string, error)
}

// EventPublisher emits domain events keyed by dispute id.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Locker serialises writers of one dispute. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// SignRequest is a party's signature over the current agreement document. A
// non-empty ResolutionText replaces the stored text before the document is
// re-hashed.
type SignRequest struct {
	agreement.SignRequest
	ResolutionText string
}

// Service owns dispute status transitions and the agreement protocol.
type Service struct {
	repo         Repository
	ledger       *agreement.Ledger
	notifier     Notifier
	mailer       Mailer
	directory    Directory
	events       EventPublisher
	locker       Locker
	metrics      *metrics.Collectors
	baseURL      string
	now          func() time.Time
	idGenerator  func() string
	maxAttempts  int
	messageLimit int
	inflight     sync.WaitGroup
	effectsMu    sync.Mutex
	pending      map[string]chan struct{}
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:         repo,
		ledger:       agreement.NewLedger(),
		notifier:     nopNotifier{},
		mailer:       nopMailer{},
		directory:    nopDirectory{},
		events:       nopPublisher{},
		locker:       nopLocker{},
		now:          time.Now,
		idGenerator:  func() string { return uuid.NewString() },
		maxAttempts:  defaultMaxAttempts,
		messageLimit: defaultMessageLimit,
		pending:      make(map[string]chan struct{}),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.ledger.WithClock(now)
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	s.ledger.WithIDGenerator(gen)
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithMailer(m Mailer) *Service {
	s.mailer = m
	return s
}

func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

func (s *Service) WithLocker(l Locker) *Service {
	s.locker = l
	return s
}

func (s *Service) WithMetrics(m *metrics.Collectors) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithBaseURL(url string) *Service {
	s.baseURL = strings.TrimRight(url, "/")
	return s
}

func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

// Create files a new dispute on behalf of the plaintiff.
func (s *Service) Create(ctx context.Context, caller Identity, req CreateRequest) (Dispute, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)
	req.DefendantEmail = strings.ToLower(strings.TrimSpace(req.DefendantEmail))

	if req.Title == "" || req.Description == "" || req.Category == "" || req.DefendantEmail == "" {
		return Dispute{}, fmt.Errorf("%w: title, description, category and defendant_email are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(req.DefendantEmail); err != nil {
		return Dispute{}, fmt.Errorf("%w: defendant_email: %v", ErrInvalidInput, err)
	}
	if sameEmail(req.DefendantEmail, caller.Email) {
		return Dispute{}, fmt.Errorf("%w: you cannot file a dispute against yourself", ErrInvalidInput)
	}

	d := Dispute{
		ID:              s.idGenerator(),
		PlaintiffUserID: caller.ID,
		CreatorEmail:    strings.ToLower(strings.TrimSpace(caller.Email)),
		DefendantEmail:  req.DefendantEmail,
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		EvidenceText:    strings.TrimSpace(req.EvidenceText),
		AmountDisputed:  strings.TrimSpace(req.AmountDisputed),
		Status:          StatusOpen,
		Agreement:       agreement.NewDocument(),
	}

	if id, ok, err := s.directory.UserIDByEmail(ctx, d.DefendantEmail); err != nil {
		slog.WarnContext(ctx, "defendant lookup failed", "error", err)
	} else if ok {
		d.DefendantUserID = &id
	}

	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return Dispute{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(created.ID), UserID: logger.Ptr(caller.ID)})
	slog.InfoContext(ctx, "dispute filed", "category", created.Category)
	s.dispatch(ctx, caller, "create", Dispute{}, created)
	return created, nil
}

// Get returns a dispute visible to the caller.
func (s *Service) Get(ctx context.Context, caller Identity, id string) (Dispute, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Dispute{}, err
	}
	if !caller.IsAdmin {
		if _, ok := d.RoleOf(caller.ID, caller.Email); !ok {
			return Dispute{}, ErrForbidden
		}
	}
	return d, nil
}

// ListFiled returns the disputes the caller filed as plaintiff.
func (s *Service) ListFiled(ctx context.Context, caller Identity) ([]Dispute, error) {
	if caller.ID == "" {
		return []Dispute{}, nil
	}
	return s.repo.List(ctx, Filter{PlaintiffUserID: caller.ID})
}

// ListAgainst returns the disputes naming the caller as defendant.
func (s *Service) ListAgainst(ctx context.Context, caller Identity) ([]Dispute, error) {
	if strings.TrimSpace(caller.Email) == "" {
		return []Dispute{}, nil
	}
	return s.repo.List(ctx, Filter{DefendantEmail: caller.Email})
}

// ListAll is the administrator view, optionally narrowed to one status.
func (s *Service) ListAll(ctx context.Context, caller Identity, status Status) ([]Dispute, error) {
	if !caller.IsAdmin {
		return nil, ErrForbidden
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.repo.List(ctx, Filter{Status: status})
}

// Stats counts disputes by status: every dispute for administrators, the
// caller's own (filed or against) otherwise.
func (s *Service) Stats(ctx context.Context, caller Identity) (Stats, error) {
	filters := []Filter{{}}
	if !caller.IsAdmin {
		filters = []Filter{{PlaintiffUserID: caller.ID}, {DefendantEmail: caller.Email}}
	}

	out := Stats{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		out.ByStatus[status] = 0
	}
	for _, f := range filters {
		if f == (Filter{}) && !caller.IsAdmin {
			continue
		}
		counts, err := s.repo.CountByStatus(ctx, f)
		if err != nil {
			return Stats{}, err
		}
		for status, n := range counts {
			out.ByStatus[status] += n
			out.Total += n
		}
	}
	return out, nil
}

// Delete removes an Open dispute. Only the plaintiff may delete.
func (s *Service) Delete(ctx context.Context, caller Identity, id string) error {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return fmt.Errorf("dispute: lock: %w", err)
	}
	defer unlock()

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if role, ok := d.RoleOf(caller.ID, caller.Email); !ok || role != agreement.RolePlaintiff {
		return ErrForbidden
	}
	if d.Status != StatusOpen {
		return stateError("delete", d.Status)
	}
	if err := s.repo.Delete(ctx, id, d.Revision); err != nil {
		if errors.Is(err, ErrStale) {
			return fmt.Errorf("%w: dispute changed while deleting", ErrConflict)
		}
		return err
	}
	return nil
}

// Accept moves an Open dispute to InProgress. Only the defendant may accept.
func (s *Service) Accept(ctx context.Context, caller Identity, id string) (Dispute, error) {
	return s.transition(ctx, caller, id, "accept", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		if err := requireRole(*d, caller, agreement.RoleDefendant); err != nil {
			return nil, err
		}
		if d.Status != StatusOpen {
			return nil, stateError("accept", d.Status)
		}
		d.Status = StatusInProgress
		d.AcceptedAt = timePtr(s.now().UTC())
		return nil, nil
	})
}

// Reject declines an Open dispute. Only the defendant may reject.
func (s *Service) Reject(ctx context.Context, caller Identity, id string) (Dispute, error) {
	return s.transition(ctx, caller, id, "reject", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		if err := requireRole(*d, caller, agreement.RoleDefendant); err != nil {
			return nil, err
		}
		if d.Status != StatusOpen {
			return nil, stateError("reject", d.Status)
		}
		d.Status = StatusRejected
		d.RejectedAt = timePtr(s.now().UTC())
		return nil, nil
	})
}

// ProposeResolution replaces the negotiated resolution text. A change of text
// moves the agreement to a new version, which withdraws both parties'
// agreement to the previous one.
func (s *Service) ProposeResolution(ctx context.Context, caller Identity, id, text string) (Dispute, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Dispute{}, fmt.Errorf("%w: resolution_text is required", ErrInvalidInput)
	}
	return s.transition(ctx, caller, id, "propose", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		if _, err := requireParty(*d, caller); err != nil {
			return nil, err
		}
		if !d.Status.Negotiable() {
			return nil, stateError("propose a resolution", d.Status)
		}
		d.ResolutionText = text
		if d.Agreement.Refresh(d.Content()) {
			d.PlaintiffAgreed = false
			d.DefendantAgreed = false
		}
		return nil, nil
	})
}

// Sign records the caller's e-signature on the current agreement version.
func (s *Service) Sign(ctx context.Context, caller Identity, id string, req SignRequest) (Dispute, agreement.SignatureRecord, error) {
	var rec agreement.SignatureRecord
	d, err := s.transition(ctx, caller, id, "sign", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		role, err := requireParty(*d, caller)
		if err != nil {
			return nil, err
		}
		if role != req.PartyRole {
			return nil, fmt.Errorf("%w: caller is the %s, not the %s", ErrForbidden, role, req.PartyRole)
		}
		if !d.Status.Negotiable() {
			return nil, stateError("sign", d.Status)
		}
		if text := strings.TrimSpace(req.ResolutionText); text != "" {
			d.ResolutionText = text
		}

		signed, err := s.ledger.Sign(&d.Agreement, d.Content(), agreement.Signer{UserID: caller.ID, Email: caller.Email}, req.SignRequest)
		if err != nil {
			return nil, classifyLedgerError(err)
		}
		rec = signed

		current := d.Agreement.Version
		d.PlaintiffAgreed = d.Agreement.HasSigned(agreement.RolePlaintiff, current)
		d.DefendantAgreed = d.Agreement.HasSigned(agreement.RoleDefendant, current)
		d.setEscalated(role, false, "")

		if d.Status == StatusOpen {
			d.Status = StatusInProgress
		}
		if d.BothAgreed() {
			d.Status = StatusPendingApproval
			d.PendingApprovalSince = timePtr(s.now().UTC())
		}
		return []agreement.SignatureRecord{signed}, nil
	})
	if err != nil {
		return Dispute{}, agreement.SignatureRecord{}, err
	}
	s.metrics.Signature(string(rec.PartyRole))
	return d, rec, nil
}

// Escalate records the caller's request for manual review. The dispute only
// moves to Escalated once both parties have asked for it.
func (s *Service) Escalate(ctx context.Context, caller Identity, id, reason string) (Dispute, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, caller, id, "escalate", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		role, err := requireParty(*d, caller)
		if err != nil {
			return nil, err
		}
		if !d.Status.Negotiable() {
			return nil, stateError("escalate", d.Status)
		}
		if d.escalated(role) {
			return nil, fmt.Errorf("%w: %s already requested escalation", ErrInvalidState, role)
		}
		d.setEscalated(role, true, reason)
		if d.BothEscalated() {
			d.Status = StatusEscalated
			d.EscalatedAt = timePtr(s.now().UTC())
		}
		return nil, nil
	})
}

// Drop withdraws a dispute on behalf of either party.
func (s *Service) Drop(ctx context.Context, caller Identity, id string) (Dispute, error) {
	return s.transition(ctx, caller, id, "drop", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		role, err := requireParty(*d, caller)
		if err != nil {
			return nil, err
		}
		if d.Status.Terminal() {
			return nil, stateError("drop", d.Status)
		}
		d.Status = StatusDropped
		d.DroppedAt = timePtr(s.now().UTC())
		d.DroppedBy = &role
		return nil, nil
	})
}

// Approve ratifies an agreed resolution.
func (s *Service) Approve(ctx context.Context, caller Identity, id, notes string) (Dispute, error) {
	return s.transition(ctx, caller, id, "approve", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		if !caller.IsAdmin {
			return nil, ErrForbidden
		}
		if d.Status != StatusPendingApproval {
			return nil, stateError("approve", d.Status)
		}
		d.Status = StatusResolved
		d.ResolvedAt = timePtr(s.now().UTC())
		d.AdminID = &caller.ID
		d.AdminNotes = strings.TrimSpace(notes)
		return nil, nil
	})
}

// RejectResolution sends an agreed resolution back for renegotiation. The
// text and both agreement flags are cleared and the document moves to a new
// version, so the parties can sign again even if the same text is proposed.
func (s *Service) RejectResolution(ctx context.Context, caller Identity, id, notes string) (Dispute, error) {
	return s.transition(ctx, caller, id, "reject_resolution", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		if !caller.IsAdmin {
			return nil, ErrForbidden
		}
		if d.Status != StatusPendingApproval {
			return nil, stateError("reject the resolution", d.Status)
		}
		d.Status = StatusInProgress
		d.ResolutionText = ""
		d.Agreement.Refresh(d.Content())
		d.PlaintiffAgreed = false
		d.DefendantAgreed = false
		d.PendingApprovalSince = nil
		d.AdminID = &caller.ID
		d.AdminNotes = strings.TrimSpace(notes)
		return nil, nil
	})
}

// ResolveEscalation closes an escalated dispute with an administrator ruling.
func (s *Service) ResolveEscalation(ctx context.Context, caller Identity, id, resolution, notes string) (Dispute, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return Dispute{}, fmt.Errorf("%w: resolution_text is required", ErrInvalidInput)
	}
	return s.transition(ctx, caller, id, "resolve_escalation", func(d *Dispute) ([]agreement.SignatureRecord, error) {
		if !caller.IsAdmin {
			return nil, ErrForbidden
		}
		if d.Status != StatusEscalated {
			return nil, stateError("resolve an escalation", d.Status)
		}
		d.ResolutionText = resolution
		if d.Agreement.Refresh(d.Content()) {
			d.PlaintiffAgreed = false
			d.DefendantAgreed = false
		}
		d.Status = StatusResolved
		d.ResolvedAt = timePtr(s.now().UTC())
		d.AdminID = &caller.ID
		d.AdminNotes = strings.TrimSpace(notes)
		return nil, nil
	})
}

// Agreement returns the agreement document of a dispute visible to the
// caller, including every signature ever recorded.
func (s *Service) Agreement(ctx context.Context, caller Identity, id string) (agreement.Document, error) {
	d, err := s.Get(ctx, caller, id)
	if err != nil {
		return agreement.Document{}, err
	}
	doc := d.Agreement.Clone()
	doc.Refresh(d.Content())
	return doc, nil
}

// SignaturesForVersion returns the signatures recorded against one version.
func (s *Service) SignaturesForVersion(ctx context.Context, caller Identity, id string, version int) ([]agreement.SignatureRecord, error) {
	d, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidInput)
	}
	return d.Agreement.SignaturesFor(version), nil
}

type mutation func(d *Dispute) ([]agreement.SignatureRecord, error)

// transition applies fn to a freshly read dispute and writes the result with a
// revision check, retrying on a lost race. Predicates inside fn therefore
// always see the other party's committed actions. Side effects fire once,
// after the winning write.
func (s *Service) transition(ctx context.Context, caller Identity, id, op string, fn mutation) (Dispute, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DisputeID: logger.Ptr(id),
		UserID:    logger.Ptr(caller.ID),
		Component: "disputeflow.dispute.service",
	})

	before, after, err := s.mutate(ctx, caller, id, op, fn)
	if err != nil {
		return Dispute{}, err
	}

	if before.Status != after.Status {
		s.metrics.Transition(string(before.Status), string(after.Status))
		slog.InfoContext(ctx, "dispute transitioned", "op", op, "from", before.Status, "to", after.Status)
	}
	s.dispatch(ctx, caller, op, before, after)
	return after, nil
}

func (s *Service) mutate(ctx context.Context, caller Identity, id, op string, fn mutation) (Dispute, Dispute, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return Dispute{}, Dispute{}, fmt.Errorf("dispute: lock: %w", err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return Dispute{}, Dispute{}, err
		}

		next := current.clone()
		appended, err := fn(&next)
		if err != nil {
			return Dispute{}, Dispute{}, err
		}
		if next.DefendantUserID == nil && caller.ID != "" && sameEmail(caller.Email, next.DefendantEmail) {
			linked := caller.ID
			next.DefendantUserID = &linked
		}

		saved, err := s.repo.Update(ctx, next, appended)
		if err == nil {
			return current, saved, nil
		}
		if !errors.Is(err, ErrStale) {
			return Dispute{}, Dispute{}, err
		}
		if attempt >= s.maxAttempts {
			s.metrics.Conflict(op, "exhausted")
			slog.WarnContext(ctx, "dispute write retries exhausted", "op", op, "attempts", attempt)
			return Dispute{}, Dispute{}, fmt.Errorf("%w: concurrent update, please retry", ErrConflict)
		}
		s.metrics.Conflict(op, "retried")
		slog.DebugContext(ctx, "dispute write lost race, retrying", "op", op, "attempt", attempt)
	}
}

func requireParty(d Dispute, caller Identity) (agreement.PartyRole, error) {
	role, ok := d.RoleOf(caller.ID, caller.Email)
	if !ok {
		return "", fmt.Errorf("%w: not a party to this dispute", ErrForbidden)
	}
	return role, nil
}

func requireRole(d Dispute, caller Identity, want agreement.PartyRole) error {
	role, err := requireParty(d, caller)
	if err != nil {
		return err
	}
	if role != want {
		return fmt.Errorf("%w: only the %s may do this", ErrForbidden, want)
	}
	return nil
}

func lockKey(id string) string {
	return "dispute:" + id
}
