package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tailortalk/assistant/internal/services/assistant/storage"
)

func TestConsumeStateSingleWinnerUnderConcurrency(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.PutState(ctx, storage.OAuthStateRow{
		StateHash: "hash",
		SessionID: "session",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}); err != nil {
		t.Fatalf("put state: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.ConsumeState(ctx, "hash", now); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestTokenIsolationBetweenSessions(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, session := range []string{"a", "b"} {
		if err := store.PutToken(ctx, storage.TokenRow{SessionID: session, Ciphertext: "sealed-" + session, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("put token %s: %v", session, err)
		}
	}

	if err := store.DeleteToken(ctx, "a"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, err := store.GetToken(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted token: %v, want ErrNotFound", err)
	}
	row, err := store.GetToken(ctx, "b")
	if err != nil {
		t.Fatalf("get token b: %v", err)
	}
	if row.Ciphertext != "sealed-b" {
		t.Fatalf("ciphertext = %q, want %q", row.Ciphertext, "sealed-b")
	}
}
