package notification

import (
	"context"
	"errors"
	"testing"
)

func TestPGRepository_MalformedIDIsNotFound(t *testing.T) {
	repo := NewRepository(nil)

	if _, err := repo.Get(context.Background(), "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if err := repo.MarkRead(context.Background(), "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from MarkRead, got %v", err)
	}
}
