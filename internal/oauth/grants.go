package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var ErrUnknownState = errors.New("unknown or expired oauth state")

// GrantTTL bounds how long a state or a claimed code is remembered.
const GrantTTL = 10 * time.Minute

// GrantStore binds OAuth states to users and makes authorization codes single use.
type GrantStore interface {
	SaveState(ctx context.Context, state, userID string, ttl time.Duration) error
	// ConsumeState returns the bound user once; later calls fail with ErrUnknownState.
	ConsumeState(ctx context.Context, state string) (string, error)
	// ClaimCode reports false when the code was already claimed.
	ClaimCode(ctx context.Context, code string, ttl time.Duration) (bool, error)
	// ReleaseCode forgets a claim so the code can be presented again.
	ReleaseCode(ctx context.Context, code string) error
}

// CodeKey is the stored form of an authorization code.
func CodeKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryGrants is a process-local GrantStore.
type MemoryGrants struct {
	mu     sync.Mutex
	states map[string]memoryEntry
	codes  map[string]time.Time
	now    func() time.Time
}

func NewMemoryGrants() *MemoryGrants {
	return &MemoryGrants{
		states: make(map[string]memoryEntry),
		codes:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryGrants) SaveState(_ context.Context, state, userID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	m.states[state] = memoryEntry{value: userID, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryGrants) ConsumeState(_ context.Context, state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.states[state]
	if !ok {
		return "", ErrUnknownState
	}
	delete(m.states, state)
	if !m.now().Before(e.expiresAt) {
		return "", ErrUnknownState
	}
	return e.value, nil
}

func (m *MemoryGrants) ClaimCode(_ context.Context, code string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	key := CodeKey(code)
	if _, taken := m.codes[key]; taken {
		return false, nil
	}
	m.codes[key] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryGrants) ReleaseCode(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, CodeKey(code))
	return nil
}

// sweep drops expired entries. Callers hold m.mu.
func (m *MemoryGrants) sweep() {
	now := m.now()
	for k, e := range m.states {
		if !now.Before(e.expiresAt) {
			delete(m.states, k)
		}
	}
	for k, exp := range m.codes {
		if !now.Before(exp) {
			delete(m.codes, k)
		}
	}
}
