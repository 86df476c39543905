// Package challenge issues and verifies short-lived human-verification
// codes. Challenges are single use and expire after a fixed TTL.
package challenge

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	server "blockwell/server"
)

// charset omits visually ambiguous characters (0/O, 1/I/l).
const charset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

const (
	codeLength = 4
	ttl        = 120 * time.Second
)

type pending struct {
	sessionID string
	code      string
	expiresAt time.Time
}

// Service implements server.Challenger with an in-memory table. Expired
// entries are removed lazily on verify and in bulk by Sweep.
type Service struct {
	mu      sync.Mutex
	pending map[string]pending
	rng     *rand.Rand
	now     func() time.Time
}

// New returns a service. rng and now are injectable for tests; nil selects
// production defaults.
func New(rng *rand.Rand, now func() time.Time) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		pending: make(map[string]pending),
		rng:     rng,
		now:     now,
	}
}

// Create issues a fresh challenge for the session. Any previous challenge
// for the same session stays valid until it expires or is consumed.
func (s *Service) Create(sessionID string) (server.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := make([]byte, codeLength)
	for i := range code {
		code[i] = charset[s.rng.Intn(len(charset))]
	}
	id := uuid.NewString()
	expires := s.now().Add(ttl)
	s.pending[id] = pending{sessionID: sessionID, code: string(code), expiresAt: expires}
	return server.Challenge{ID: id, ExpiresAt: expires}, nil
}

// code is test-only access to a pending answer. The answer never crosses
// the package boundary except through Verify.
func (s *Service) code(challengeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[challengeID]
	if !ok {
		return "", false
	}
	return entry.code, true
}

// Render produces the distorted SVG a human solves. Each glyph gets its
// own jittered position and rotation, plus noise strokes across the text.
func (s *Service) Render(challengeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[challengeID]
	if !ok {
		return "", false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.pending, challengeID)
		return "", false
	}

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="160" height="60" viewBox="0 0 160 60">`)
	b.WriteString(`<rect width="160" height="60" fill="#f4f4f4"/>`)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#9aa" stroke-width="1"/>`,
			s.rng.Intn(40), s.rng.Intn(60), 120+s.rng.Intn(40), s.rng.Intn(60))
	}
	for i, c := range entry.code {
		x := 22 + i*32 + s.rng.Intn(7) - 3
		y := 38 + s.rng.Intn(11) - 5
		rot := s.rng.Intn(41) - 20
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-size="30" font-family="monospace" fill="#334" transform="rotate(%d %d %d)">%c</text>`,
			x, y, rot, x, y, c)
	}
	b.WriteString(`</svg>`)
	return b.String(), true
}

// Verify consumes the challenge when the answer matches, case insensitive.
// A wrong answer does not consume it; an expired one is dropped on sight.
func (s *Service) Verify(challengeID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[challengeID]
	if !ok {
		return server.ErrChallengeRequired
	}
	if s.now().After(entry.expiresAt) {
		delete(s.pending, challengeID)
		return server.ErrChallengeRequired
	}
	if !strings.EqualFold(entry.code, answer) {
		return server.ErrChallengeRequired
	}
	delete(s.pending, challengeID)
	return nil
}

// Sweep drops every expired challenge and reports how many were removed.
func (s *Service) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.pending {
		if now.After(entry.expiresAt) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}
