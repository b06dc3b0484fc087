// Package mock provides an in-memory test double for archive.Store.
package mock

import (
	"context"
	"sync"

	"github.com/inchoate/argument-clinic/pkg/archive"
)

// Store records appended records in memory.
type Store struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by Append and nothing is stored.
	AppendErr error

	// PingErr is returned by Ping.
	PingErr error

	records     []archive.Record
	appendCalls int
}

// Append implements archive.Store.
func (s *Store) Append(_ context.Context, records ...archive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.records = append(s.records, records...)
	return nil
}

// Ping implements archive.Store.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Records returns a copy of everything appended so far.
func (s *Store) Records() []archive.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Record, len(s.records))
	copy(out, s.records)
	return out
}

// AppendCalls returns how many times Append was called.
func (s *Store) AppendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls
}

var _ archive.Store = (*Store)(nil)
