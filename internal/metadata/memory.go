package metadata

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs
type MemoryStore struct {
	mu        sync.Mutex
	rateLimit *RateLimitState
	activeID  string
	prompts   map[string]string
	audits    map[string]AuditRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prompts: make(map[string]string),
		audits:  make(map[string]AuditRecord),
	}
}

func (m *MemoryStore) GetRateLimit(ctx context.Context) (*RateLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rateLimit == nil {
		return nil, ErrNotFound
	}
	state := *m.rateLimit
	return &state, nil
}

func (m *MemoryStore) PutRateLimit(ctx context.Context, at time.Time, prev *RateLimitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case prev == nil && m.rateLimit != nil:
		return ErrConditionFailed
	case prev != nil && prev.Malformed:
	case prev != nil && (m.rateLimit == nil || m.rateLimit.Revision != prev.Revision):
		return ErrConditionFailed
	}
	m.rateLimit = &RateLimitState{LastInvokedAt: at, Revision: FormatTimestamp(at)}
	return nil
}

func (m *MemoryStore) GetActivePromptID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return "", ErrNotFound
	}
	return m.activeID, nil
}

func (m *MemoryStore) PutActivePromptID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = id
	return nil
}

func (m *MemoryStore) GetPrompt(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.prompts[id]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

func (m *MemoryStore) PutPrompt(ctx context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts[id] = text
	return nil
}

func (m *MemoryStore) PutAudit(ctx context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[rec.ID] = rec
	return nil
}

func (m *MemoryStore) GetAudit(ctx context.Context, id string) (*AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.audits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}
