package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"disputeflow/agreement"
	"disputeflow/dispute"
	"disputeflow/test/actors"
	"disputeflow/test/chaos"
	"disputeflow/test/infra"
	"disputeflow/test/oracles"
)

var (
	flDuration = flag.Duration("duration", 5*time.Second, "how long to run stress")
	flDisputes = flag.Int("disputes", 4, "number of disputes under contention")
	flChaos    = flag.Bool("chaos", false, "terminate random backends during the run")
)

const messageLimit = 20

type parties struct {
	plaintiff dispute.Identity
	defendant dispute.Identity
	admin     dispute.Identity
}

func seedParties(t *testing.T, ctx context.Context, h *infra.Harness) parties {
	t.Helper()
	suffix := rand.Int63()
	var p parties
	for _, who := range []struct {
		into  *dispute.Identity
		email string
		role  string
	}{
		{&p.plaintiff, fmt.Sprintf("plaintiff%d@example.com", suffix), "user"},
		{&p.defendant, fmt.Sprintf("defendant%d@example.com", suffix), "user"},
		{&p.admin, fmt.Sprintf("admin%d@example.com", suffix), "admin"},
	} {
		id, err := h.SeedUser(ctx, who.email, who.role)
		if err != nil {
			t.Fatalf("%v", err)
		}
		*who.into = dispute.Identity{ID: id, Email: who.email, IsAdmin: who.role == "admin"}
	}
	return p
}

type adminDirectory struct{ admins []string }

func (d adminDirectory) UserIDByEmail(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (d adminDirectory) AdminIDs(context.Context) ([]string, error) { return d.admins, nil }

type countingNotifier struct {
	mu     sync.Mutex
	counts map[string]int
}

func (n *countingNotifier) Notify(ctx context.Context, userID, kind, title, message, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.counts == nil {
		n.counts = make(map[string]int)
	}
	n.counts[userID+"/"+kind]++
	return nil
}

func (n *countingNotifier) count(userID, kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counts[userID+"/"+kind]
}

func TestConcurrentSignersReachConsensusOnce(t *testing.T) {
	h := infra.Start(t)
	ctx := context.Background()
	p := seedParties(t, ctx, h)

	notifier := &countingNotifier{}
	svc := dispute.NewService(dispute.NewRepository(h.Pool())).
		WithNotifier(notifier).
		WithDirectory(adminDirectory{admins: []string{p.admin.ID}}).
		WithMaxAttempts(10)

	d, err := svc.Create(ctx, p.plaintiff, dispute.CreateRequest{
		Title:          "Damaged sofa",
		Description:    "Delivered with a torn cushion",
		Category:       "goods",
		DefendantEmail: p.defendant.Email,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Accept(ctx, p.defendant, d.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	proposed, err := svc.ProposeResolution(ctx, p.plaintiff, d.ID, "Replace the cushion within 14 days")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, signer := range []struct {
		who  dispute.Identity
		role agreement.PartyRole
	}{{p.plaintiff, agreement.RolePlaintiff}, {p.defendant, agreement.RoleDefendant}} {
		g.Go(func() error {
			_, _, err := svc.Sign(gctx, signer.who, d.ID, dispute.SignRequest{SignRequest: agreement.SignRequest{
				PartyRole:       signer.role,
				SignatureType:   agreement.SignatureTyped,
				TypedName:       signer.who.Email,
				DocumentVersion: proposed.Agreement.Version,
				DocumentHash:    proposed.Agreement.Hash,
			}})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent sign: %v", err)
	}

	final, err := svc.Get(ctx, p.admin, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != dispute.StatusPendingApproval {
		t.Fatalf("expected %s got %s", dispute.StatusPendingApproval, final.Status)
	}
	if got := len(final.Agreement.SignaturesFor(final.Agreement.Version)); got != 2 {
		t.Fatalf("expected 2 signatures on v%d got %d", final.Agreement.Version, got)
	}
	svc.Wait()
	if got := notifier.count(p.admin.ID, "pending_approval"); got != 1 {
		t.Fatalf("expected exactly one admin approval notice, got %d", got)
	}
	assertOracles(t, ctx, h.Pool())
}

func TestDisputeStress(t *testing.T) {
	h := infra.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+time.Minute)
	defer cancel()
	p := seedParties(t, ctx, h)

	svc := dispute.NewService(dispute.NewRepository(h.Pool())).
		WithDirectory(adminDirectory{admins: []string{p.admin.ID}}).
		WithMaxAttempts(5)

	ids := make([]string, 0, *flDisputes)
	for i := 0; i < *flDisputes; i++ {
		d, err := svc.Create(ctx, p.plaintiff, dispute.CreateRequest{
			Title:          fmt.Sprintf("Stress dispute %d", i),
			Description:    "Concurrent negotiation",
			Category:       "services",
			DefendantEmail: p.defendant.Email,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := svc.Accept(ctx, p.defendant, d.ID); err != nil {
			t.Fatalf("accept: %v", err)
		}
		ids = append(ids, d.ID)
	}

	tally := &actors.Tally{}
	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return actors.Signer(gctx, svc, p.plaintiff, agreement.RolePlaintiff, id, tally, stop)
		})
		g.Go(func() error {
			return actors.Signer(gctx, svc, p.defendant, agreement.RoleDefendant, id, tally, stop)
		})
		g.Go(func() error { return actors.Proposer(gctx, svc, p.plaintiff, id, tally, stop) })
		g.Go(func() error { return actors.Proposer(gctx, svc, p.defendant, id, tally, stop) })
		g.Go(func() error { return actors.Chatter(gctx, svc, p.defendant, id, tally, stop) })
		g.Go(func() error { return actors.Escalator(gctx, svc, p.plaintiff, id, tally, stop) })
	}
	g.Go(func() error { return actors.Admin(gctx, svc, p.admin, ids, tally, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, h.Pool(), infra.ApplicationName, time.Second, 3, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx, h.Pool(), messageLimit)
			if err != nil {
				if *flChaos {
					continue
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				close(stop)
				_ = g.Wait()
				t.Fatalf("oracle %s failed. First row: %s (%s)", name, row, tally)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("actors errored: %v", err)
	}
	if tally.Succeeded.Load() == 0 {
		t.Fatalf("expected some operations to succeed (%s)", tally)
	}
	t.Logf("stress finished: %s", tally)
	assertOracles(t, ctx, h.Pool())
}

func assertOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool, messageLimit)
	if err != nil {
		t.Fatalf("oracle error: %v", err)
	}
	if name != "" {
		t.Fatalf("oracle %s failed. First row: %s", name, row)
	}
}
