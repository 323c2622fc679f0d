package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"classtrack/internal/clock"
	"classtrack/internal/metrics"
)

// Token is the short-lived proof-of-presence credential bound to a session.
// Value carries 128 bits of entropy; Version increases by one per rotation.
type Token struct {
	SessionID string    `json:"session_id"`
	Value     string    `json:"value"`
	Version   uint64    `json:"version"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrSessionNotActive rejects issuance for sessions outside the Active state.
var ErrSessionNotActive = errors.New("session is not active")

// ActiveChecker reports whether a session is currently Active.
type ActiveChecker interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

// ActiveFunc adapts a function to the ActiveChecker interface.
type ActiveFunc func(ctx context.Context, sessionID string) (bool, error)

// IsActive calls f.
func (f ActiveFunc) IsActive(ctx context.Context, sessionID string) (bool, error) {
	return f(ctx, sessionID)
}

// HistoryRecorder persists issued tokens for audit. Recording is best-effort
// and never blocks issuance.
type HistoryRecorder interface {
	RecordIssued(ctx context.Context, t Token) error
}

// Generator issues, rotates and validates session check-in tokens. The
// current token per session is a versioned snapshot behind an atomic pointer:
// rotation is a compare-and-set on the whole snapshot, so readers observe
// either the old or the new token, never a torn value.
type Generator struct {
	ttl     time.Duration
	clk     clock.Clock
	active  ActiveChecker
	history HistoryRecorder
	current sync.Map // session id -> *atomic.Pointer[Token]
}

// NewGenerator creates a generator. history may be nil.
func NewGenerator(ttl time.Duration, clk clock.Clock, active ActiveChecker, history HistoryRecorder) *Generator {
	return &Generator{ttl: ttl, clk: clk, active: active, history: history}
}

func (g *Generator) slot(sessionID string) *atomic.Pointer[Token] {
	if p, ok := g.current.Load(sessionID); ok {
		return p.(*atomic.Pointer[Token])
	}
	p, _ := g.current.LoadOrStore(sessionID, new(atomic.Pointer[Token]))
	return p.(*atomic.Pointer[Token])
}

// Issue unconditionally rotates the session's token. The previous value is
// invalid for check-in the instant the swap lands.
func (g *Generator) Issue(ctx context.Context, sessionID string) (Token, error) {
	ok, err := g.active.IsActive(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, ErrSessionNotActive
	}
	slot := g.slot(sessionID)
	for {
		old := slot.Load()
		next := g.mint(sessionID, old)
		if slot.CompareAndSwap(old, &next) {
			metrics.TokenRotations.Inc()
			g.record(ctx, next)
			return next, nil
		}
	}
}

// RotateIfNeeded returns the still-valid current token, or issues a new one
// when none exists or the previous expired. Concurrent rotations for the
// same session converge on a single winner; losers return the winning token.
func (g *Generator) RotateIfNeeded(ctx context.Context, sessionID string) (Token, error) {
	ok, err := g.active.IsActive(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, ErrSessionNotActive
	}
	slot := g.slot(sessionID)
	for {
		old := slot.Load()
		if old != nil && g.clk.Now().Before(old.ExpiresAt) {
			return *old, nil
		}
		next := g.mint(sessionID, old)
		if slot.CompareAndSwap(old, &next) {
			metrics.TokenRotations.Inc()
			g.record(ctx, next)
			return next, nil
		}
	}
}

// Validate reports whether presented equals the session's current token value
// and the token has not expired. Values superseded by rotation fail even
// before their original expiry; that is the anti-replay property.
func (g *Generator) Validate(sessionID, presented string) bool {
	p, ok := g.current.Load(sessionID)
	if !ok {
		return false
	}
	cur := p.(*atomic.Pointer[Token]).Load()
	if cur == nil || presented == "" {
		return false
	}
	if !g.clk.Now().Before(cur.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cur.Value), []byte(presented)) == 1
}

// Drop discards the session's current token, typically on close.
func (g *Generator) Drop(sessionID string) {
	g.current.Delete(sessionID)
}

func (g *Generator) mint(sessionID string, prev *Token) Token {
	now := g.clk.Now()
	version := uint64(1)
	if prev != nil {
		version = prev.Version + 1
	}
	return Token{
		SessionID: sessionID,
		Value:     randomValue(),
		Version:   version,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	}
}

func (g *Generator) record(ctx context.Context, t Token) {
	if g.history == nil {
		return
	}
	if err := g.history.RecordIssued(ctx, t); err != nil {
		log.Printf("token history write failed for session %s: %v", t.SessionID, err)
	}
}

func randomValue() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process cannot mint credentials at all.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
