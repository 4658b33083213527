package dispute

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"disputeflow/agreement"
)

type fakeRepository struct {
	mu       sync.Mutex
	disputes map[string]Dispute
	messages map[string][]Message
	now      time.Time

	// beforeUpdate runs once per Update call before the revision check.
	beforeUpdate func(f *fakeRepository, d Dispute)
	updates      int
	staleAlways  bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		disputes: make(map[string]Dispute),
		messages: make(map[string][]Message),
		now:      time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepository) Create(ctx context.Context, d Dispute) (Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = fmt.Sprintf("d-%d", len(f.disputes)+1)
	}
	d.Revision = 1
	d.CreatedAt = f.now
	d.UpdatedAt = f.now
	f.disputes[d.ID] = d.clone()
	return d.clone(), nil
}

func (f *fakeRepository) Get(ctx context.Context, id string) (Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d.clone(), nil
}

func (f *fakeRepository) Update(ctx context.Context, d Dispute, appended []agreement.SignatureRecord) (Dispute, error) {
	f.mu.Lock()
	hook := f.beforeUpdate
	f.beforeUpdate = nil
	f.mu.Unlock()
	if hook != nil {
		hook(f, d)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	stored, ok := f.disputes[d.ID]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	if f.staleAlways || stored.Revision != d.Revision {
		return Dispute{}, ErrStale
	}
	for _, sig := range appended {
		if stored.Agreement.HasSigned(sig.PartyRole, sig.Version) {
			return Dispute{}, ErrStale
		}
	}
	next := d.clone()
	next.Revision = stored.Revision + 1
	next.AIAnalysis = stored.AIAnalysis
	next.AISuggestions = stored.AISuggestions
	next.UpdatedAt = f.now
	f.disputes[d.ID] = next
	return next.clone(), nil
}

func (f *fakeRepository) Delete(ctx context.Context, id string, revision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.disputes[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Revision != revision {
		return ErrStale
	}
	delete(f.disputes, id)
	return nil
}

func (f *fakeRepository) List(ctx context.Context, filter Filter) ([]Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Dispute, 0)
	for _, d := range f.disputes {
		if matches(d, filter) {
			out = append(out, d.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepository) CountByStatus(ctx context.Context, filter Filter) (map[Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[Status]int)
	for _, d := range f.disputes {
		if matches(d, filter) {
			counts[d.Status]++
		}
	}
	return counts, nil
}

func (f *fakeRepository) SaveSuggestions(ctx context.Context, id, analysis string, suggestions []Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[id]
	if !ok {
		return ErrNotFound
	}
	d.AIAnalysis = analysis
	d.AISuggestions = append([]Suggestion{}, suggestions...)
	f.disputes[id] = d
	return nil
}

func (f *fakeRepository) AddMessage(ctx context.Context, msg Message, limit int) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.disputes[msg.DisputeID]; !ok {
		return Message{}, ErrNotFound
	}
	if limit > 0 && len(f.messages[msg.DisputeID]) >= limit {
		return Message{}, fmt.Errorf("%w: message limit of %d reached", ErrInvalidState, limit)
	}
	msg.CreatedAt = f.now.Add(time.Duration(len(f.messages[msg.DisputeID])) * time.Second)
	f.messages[msg.DisputeID] = append(f.messages[msg.DisputeID], msg)
	return msg, nil
}

func (f *fakeRepository) ListMessages(ctx context.Context, disputeID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message{}, f.messages[disputeID]...), nil
}

// commit writes d directly, bypassing the service, as a concurrent writer would.
func (f *fakeRepository) commit(d Dispute) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.Revision = f.disputes[d.ID].Revision + 1
	f.disputes[d.ID] = d.clone()
}

func matches(d Dispute, filter Filter) bool {
	if filter.PlaintiffUserID != "" && d.PlaintiffUserID != filter.PlaintiffUserID {
		return false
	}
	if filter.DefendantEmail != "" && !sameEmail(d.DefendantEmail, filter.DefendantEmail) {
		return false
	}
	if filter.Status != "" && d.Status != filter.Status {
		return false
	}
	return true
}

type sentNotice struct {
	userID string
	kind   string
}

// settle blocks until background deliveries are done; the fixture points it
// at Service.Wait.
type settle func()

func (fn settle) wait() {
	if fn != nil {
		fn()
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []sentNotice
	settle settle
}

func (r *recordingNotifier) Notify(ctx context.Context, userID, kind, title, message, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{userID: userID, kind: kind})
	return nil
}

func (r *recordingNotifier) count(userID, kind string) int {
	r.settle.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.userID == userID && s.kind == kind {
			n++
		}
	}
	return n
}

type recordingMailer struct {
	mu       sync.Mutex
	subjects map[string][]string
	settle   settle
}

func (r *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subjects == nil {
		r.subjects = make(map[string][]string)
	}
	r.subjects[to] = append(r.subjects[to], subject)
	return nil
}

func (r *recordingMailer) to(addr string) []string {
	r.settle.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.subjects[addr]...)
}

type staticDirectory struct {
	users  map[string]string
	admins []string
}

func (d staticDirectory) UserIDByEmail(ctx context.Context, email string) (string, bool, error) {
	id, ok := d.users[email]
	return id, ok, nil
}

func (d staticDirectory) AdminIDs(ctx context.Context) ([]string, error) {
	return d.admins, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events [][]byte
	settle settle
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, value)
	return nil
}

func (p *recordingPublisher) published() [][]byte {
	p.settle.wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte{}, p.events...)
}
