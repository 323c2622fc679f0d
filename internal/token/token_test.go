package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"classtrack/internal/clock"
)

func alwaysActive() ActiveChecker {
	return ActiveFunc(func(ctx context.Context, sessionID string) (bool, error) {
		return true, nil
	})
}

func neverActive() ActiveChecker {
	return ActiveFunc(func(ctx context.Context, sessionID string) (bool, error) {
		return false, nil
	})
}

func TestIssueRequiresActiveSession(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, neverActive(), nil)

	if _, err := gen.Issue(context.Background(), "sess-1"); err != ErrSessionNotActive {
		t.Fatalf("Issue on inactive session: err = %v, want %v", err, ErrSessionNotActive)
	}
	if _, err := gen.RotateIfNeeded(context.Background(), "sess-1"); err != ErrSessionNotActive {
		t.Fatalf("RotateIfNeeded on inactive session: err = %v, want %v", err, ErrSessionNotActive)
	}
}

func TestValidateRejectsRotatedValue(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, alwaysActive(), nil)
	ctx := context.Background()

	first, err := gen.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !gen.Validate("sess-1", first.Value) {
		t.Fatal("current token should validate")
	}

	// Rotate well before the first token's expiry; the old value must die
	// immediately (anti-replay).
	second, err := gen.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.Value == first.Value {
		t.Fatal("rotation produced the same value")
	}
	if second.Version != first.Version+1 {
		t.Fatalf("version = %d, want %d", second.Version, first.Version+1)
	}
	if gen.Validate("sess-1", first.Value) {
		t.Fatal("superseded token still validates")
	}
	if !gen.Validate("sess-1", second.Value) {
		t.Fatal("new token should validate")
	}
}

func TestValidateRejectsExpiredValue(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, alwaysActive(), nil)

	tok, err := gen.Issue(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(31 * time.Second)
	if gen.Validate("sess-1", tok.Value) {
		t.Fatal("expired token still validates")
	}
}

func TestValidateUnknownSessionOrEmptyValue(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, alwaysActive(), nil)

	if gen.Validate("sess-unknown", "anything") {
		t.Fatal("unknown session should not validate")
	}
	if _, err := gen.Issue(context.Background(), "sess-1"); err != nil {
		t.Fatal(err)
	}
	if gen.Validate("sess-1", "") {
		t.Fatal("empty value should not validate")
	}
}

func TestRotateIfNeededKeepsValidToken(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, alwaysActive(), nil)
	ctx := context.Background()

	first, err := gen.RotateIfNeeded(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(10 * time.Second)
	same, err := gen.RotateIfNeeded(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if same.Value != first.Value {
		t.Fatal("still-valid token was rotated")
	}

	clk.Advance(25 * time.Second) // past the 30s ttl now
	next, err := gen.RotateIfNeeded(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if next.Value == first.Value {
		t.Fatal("expired token was not rotated")
	}
	if gen.Validate("sess-1", first.Value) {
		t.Fatal("expired token still validates after rotation")
	}
}

func TestConcurrentRotationConvergesOnOneWinner(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, alwaysActive(), nil)
	ctx := context.Background()

	const n = 50
	values := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := gen.RotateIfNeeded(ctx, "sess-1")
			if err != nil {
				t.Error(err)
				return
			}
			values[i] = tok.Value
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if values[i] != values[0] {
			t.Fatalf("rotation diverged: %q vs %q", values[0], values[i])
		}
	}
	if values[0] == "" {
		t.Fatal("no token issued")
	}
}

func TestDropForgetsSession(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	gen := NewGenerator(30*time.Second, clk, alwaysActive(), nil)

	tok, err := gen.Issue(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	gen.Drop("sess-1")
	if gen.Validate("sess-1", tok.Value) {
		t.Fatal("dropped session token still validates")
	}
}
