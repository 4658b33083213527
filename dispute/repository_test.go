package dispute

import (
	"context"
	"errors"
	"testing"
)

func TestPGRepository_MalformedIDIsNotFound(t *testing.T) {
	repo := NewRepository(nil)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if err := repo.Delete(ctx, "42", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Delete, got %v", err)
	}
	if err := repo.SaveSuggestions(ctx, "d-1", "analysis", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from SaveSuggestions, got %v", err)
	}
	if _, err := repo.AddMessage(ctx, Message{DisputeID: "x"}, 20); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from AddMessage, got %v", err)
	}
	msgs, err := repo.ListMessages(ctx, "x")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected no messages, got %v %v", msgs, err)
	}
}
