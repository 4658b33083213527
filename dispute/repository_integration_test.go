package dispute_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"disputeflow/agreement"
	"disputeflow/dispute"
	"disputeflow/test/infra"
)

func seedDispute(t *testing.T, ctx context.Context, h *infra.Harness, repo *dispute.PGRepository) dispute.Dispute {
	t.Helper()
	if err := h.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	plaintiffID, err := h.SeedUser(ctx, "plaintiff@example.com", "user")
	if err != nil {
		t.Fatalf("%v", err)
	}
	d, err := repo.Create(ctx, dispute.Dispute{
		PlaintiffUserID: plaintiffID,
		CreatorEmail:    "plaintiff@example.com",
		DefendantEmail:  "defendant@example.com",
		Title:           "Late delivery",
		Description:     "Arrived two weeks late",
		Category:        "goods",
		Status:          dispute.StatusOpen,
		Agreement:       agreement.NewDocument(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return d
}

func TestPGRepository_UpdateIsCompareAndSwap(t *testing.T) {
	h := infra.Start(t)
	ctx := context.Background()
	repo := dispute.NewRepository(h.Pool())
	d := seedDispute(t, ctx, h, repo)

	if d.Revision != 1 || d.Status != dispute.StatusOpen {
		t.Fatalf("unexpected created dispute: revision=%d status=%s", d.Revision, d.Status)
	}

	next := d
	next.Status = dispute.StatusInProgress
	saved, err := repo.Update(ctx, next, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Revision != 2 {
		t.Fatalf("expected revision 2 got %d", saved.Revision)
	}

	stale := d
	stale.Status = dispute.StatusRejected
	if _, err := repo.Update(ctx, stale, nil); !errors.Is(err, dispute.ErrStale) {
		t.Fatalf("expected ErrStale got %v", err)
	}

	missing := d
	missing.ID = "00000000-0000-0000-0000-000000000000"
	if _, err := repo.Update(ctx, missing, nil); !errors.Is(err, dispute.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestPGRepository_SignaturesAreAppendOnly(t *testing.T) {
	h := infra.Start(t)
	ctx := context.Background()
	repo := dispute.NewRepository(h.Pool())
	d := seedDispute(t, ctx, h, repo)

	d.ResolutionText = "Refund shipping"
	d.Agreement.Refresh(d.Content())
	sig := agreement.SignatureRecord{
		ID:            "11111111-1111-1111-1111-111111111111",
		PartyRole:     agreement.RolePlaintiff,
		UserID:        d.PlaintiffUserID,
		Email:         d.CreatorEmail,
		SignatureType: agreement.SignatureTyped,
		TypedName:     "P. Laintiff",
		DocumentHash:  d.Agreement.Hash,
		Version:       d.Agreement.Version,
		SignedAt:      time.Now().UTC(),
	}
	d.Agreement.Signatures = append(d.Agreement.Signatures, sig)

	saved, err := repo.Update(ctx, d, []agreement.SignatureRecord{sig})
	if err != nil {
		t.Fatalf("update with signature: %v", err)
	}

	got, err := repo.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Agreement.HasSigned(agreement.RolePlaintiff, 1) {
		t.Fatal("expected plaintiff signature on v1")
	}

	dup := sig
	dup.ID = "22222222-2222-2222-2222-222222222222"
	if _, err := repo.Update(ctx, saved, []agreement.SignatureRecord{dup}); !errors.Is(err, dispute.ErrStale) {
		t.Fatalf("expected ErrStale for duplicate signature got %v", err)
	}

	after, _ := repo.Get(ctx, d.ID)
	if after.Revision != saved.Revision {
		t.Fatalf("expected rejected write to roll back, revision %d -> %d", saved.Revision, after.Revision)
	}
}

func TestPGRepository_MessageLimitAndSuggestions(t *testing.T) {
	h := infra.Start(t)
	ctx := context.Background()
	repo := dispute.NewRepository(h.Pool())
	d := seedDispute(t, ctx, h, repo)

	for i := 0; i < 2; i++ {
		_, err := repo.AddMessage(ctx, dispute.Message{
			DisputeID:   d.ID,
			SenderID:    d.PlaintiffUserID,
			SenderEmail: d.CreatorEmail,
			SenderRole:  agreement.RolePlaintiff,
			Content:     "hello",
		}, 2)
		if err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}
	_, err := repo.AddMessage(ctx, dispute.Message{DisputeID: d.ID, SenderID: d.PlaintiffUserID, SenderEmail: d.CreatorEmail, SenderRole: agreement.RolePlaintiff, Content: "one too many"}, 2)
	if !errors.Is(err, dispute.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState at limit got %v", err)
	}

	msgs, err := repo.ListMessages(ctx, d.ID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("expected 2 messages got %d (%v)", len(msgs), err)
	}

	suggestions := []dispute.Suggestion{{ID: "1", Text: "Refund"}, {ID: "2", Text: "Voucher"}}
	if err := repo.SaveSuggestions(ctx, d.ID, "Shipping was late.", suggestions); err != nil {
		t.Fatalf("save suggestions: %v", err)
	}
	got, _ := repo.Get(ctx, d.ID)
	if got.AIAnalysis != "Shipping was late." || len(got.AISuggestions) != 2 || got.AISuggestions[1].Text != "Voucher" {
		t.Fatalf("unexpected stored suggestions: %q %v", got.AIAnalysis, got.AISuggestions)
	}
	if got.Revision != d.Revision {
		t.Fatalf("expected suggestions not to bump revision, got %d", got.Revision)
	}
}

func TestPGRepository_ListAndCount(t *testing.T) {
	h := infra.Start(t)
	ctx := context.Background()
	repo := dispute.NewRepository(h.Pool())
	d := seedDispute(t, ctx, h, repo)

	against, err := repo.List(ctx, dispute.Filter{DefendantEmail: "Defendant@Example.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(against) != 1 || against[0].ID != d.ID {
		t.Fatalf("expected the seeded dispute, got %d rows", len(against))
	}

	counts, err := repo.CountByStatus(ctx, dispute.Filter{PlaintiffUserID: d.PlaintiffUserID})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[dispute.StatusOpen] != 1 {
		t.Fatalf("expected one open dispute got %v", counts)
	}

	if err := repo.Delete(ctx, d.ID, d.Revision+1); !errors.Is(err, dispute.ErrStale) {
		t.Fatalf("expected ErrStale for wrong revision got %v", err)
	}
	if err := repo.Delete(ctx, d.ID, d.Revision); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, d.ID); !errors.Is(err, dispute.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete got %v", err)
	}
}
