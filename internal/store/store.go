package store

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrStaleSnapshot is returned by Publish when the nonce does not follow the current one.
var ErrStaleSnapshot = errors.New("snapshot nonce does not follow current")

// Snapshot is one published build result. It is never modified after
// construction; a new build produces a new Snapshot.
type Snapshot struct {
	Binary   []byte
	Loader   []byte
	Nonce    uint64
	Revision string   // workspace HEAD, empty outside a git checkout
	Modules  []string // compiled this cycle, nil when every module was built
	BuiltAt  time.Time
}

// Checksum is the nonce as decimal text.
func (s *Snapshot) Checksum() string {
	return strconv.FormatUint(s.Nonce, 10)
}

// NextNonce is the nonce a build following prev must carry.
func NextNonce(prev *Snapshot) uint64 {
	if prev == nil {
		return 1
	}
	return prev.Nonce + 1
}

// Outcome of a build cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// BuildRecord stores metadata about a single build cycle.
type BuildRecord struct {
	ID        string        `json:"id"`
	Trigger   string        `json:"trigger"`
	Modules   []string      `json:"modules"`
	All       bool          `json:"all"`
	Outcome   Outcome       `json:"outcome"`
	Nonce     uint64        `json:"nonce,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store holds the current Snapshot and a bounded history of build records.
// One Store is shared by the build pipeline and every HTTP reader.
type Store struct {
	mu          sync.RWMutex
	current     *Snapshot
	records     []BuildRecord
	historySize int
}

// New creates an empty Store keeping the last historySize build records.
func New(historySize int) *Store {
	if historySize <= 0 {
		historySize = 50
	}
	return &Store{historySize: historySize}
}

// Publish replaces the current snapshot. The nonce must be exactly one past
// the current nonce (or 1 for the first snapshot).
func (s *Store) Publish(snap *Snapshot) error {
	if snap == nil {
		return errors.New("publish: nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if want := NextNonce(s.current); snap.Nonce != want {
		return fmt.Errorf("publish nonce %d, want %d: %w", snap.Nonce, want, ErrStaleSnapshot)
	}
	s.current = snap
	return nil
}

// Current returns the current snapshot, or nil before the first successful build.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Module returns the current module binary.
func (s *Store) Module() ([]byte, bool) {
	if snap := s.Current(); snap != nil {
		return snap.Binary, true
	}
	return nil, false
}

// Loader returns the current loader script.
func (s *Store) Loader() ([]byte, bool) {
	if snap := s.Current(); snap != nil {
		return snap.Loader, true
	}
	return nil, false
}

// Checksum returns the current nonce as decimal text, "0" before the first build.
func (s *Store) Checksum() string {
	if snap := s.Current(); snap != nil {
		return snap.Checksum()
	}
	return "0"
}

// Save appends a build record, evicting the oldest beyond the history size.
func (s *Store) Save(record BuildRecord) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	if over := len(s.records) - s.historySize; over > 0 {
		s.records = append([]BuildRecord(nil), s.records[over:]...)
	}
}

// Recent returns up to the last n build records, oldest first.
func (s *Store) Recent(n int) []BuildRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n >= 0 && n < len(s.records) {
		start = len(s.records) - n
	}
	out := make([]BuildRecord, len(s.records)-start)
	copy(out, s.records[start:])
	return out
}

// Last returns the most recent build record.
func (s *Store) Last() (BuildRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return BuildRecord{}, false
	}
	return s.records[len(s.records)-1], true
}
