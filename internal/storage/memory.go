package storage

import (
	"context"
	"sync"
)

// memStore keeps everything in maps; used when no durable driver is set
// and in tests.
type memStore struct {
	mu     sync.Mutex
	closed bool

	occ    map[int64]Occurrence
	alarms map[string]AlarmRecord
	audit  []AuditEntry
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memStore{
		occ:    map[int64]Occurrence{},
		alarms: map[string]AlarmRecord{},
	}
}

func (s *memStore) PutOccurrence(ctx context.Context, o Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.occ[o.Token] = o
	return nil
}

func (s *memStore) DeleteOccurrence(ctx context.Context, token int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.occ, token)
	return nil
}

func (s *memStore) ListOccurrences(ctx context.Context) ([]Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Occurrence, 0, len(s.occ))
	for _, o := range s.occ {
		out = append(out, o)
	}
	sortOccurrences(out)
	return out, nil
}

func (s *memStore) PutAlarm(ctx context.Context, r AlarmRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.alarms[r.ID] = r
	return nil
}

func (s *memStore) GetAlarm(ctx context.Context, id string) (AlarmRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.alarms[id]
	return r, ok, nil
}

func (s *memStore) DeleteAlarm(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.alarms, id)
	return nil
}

func (s *memStore) ListAlarms(ctx context.Context) ([]AlarmRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AlarmRecord, 0, len(s.alarms))
	for _, r := range s.alarms {
		out = append(out, r)
	}
	sortAlarms(out)
	return out, nil
}

func (s *memStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// bounded: keep the most recent entries only
	if len(s.audit) >= 1000 {
		s.audit = append(s.audit[:0], s.audit[len(s.audit)-999:]...)
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
