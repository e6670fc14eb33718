// SPDX-License-Identifier: MIT

// Package store provides durable, per-session-namespaced persistence for
// scheduled recordings and series rules. It is the single source of truth
// for both collections; all mutation is serialized under one mutex.
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/metrics"
	"github.com/ottrec/ottrec/internal/recording"
)

var (
	ErrRecordingNotFound = errors.New("recording not found")
	ErrRuleNotFound      = errors.New("series rule not found")
)

const (
	recordingsFile = "recordings.json"
	rulesFile      = "series_rules.json"

	// DefaultRetention is how long terminal entries are kept past their end
	// time before being pruned on load.
	DefaultRetention = 7 * 24 * time.Hour
)

// Store owns the persisted recording and rule collections for one active
// session key. Entries for other session keys are carried opaquely so that
// switching accounts never loses them.
type Store struct {
	mu        sync.Mutex
	dir       string
	session   string
	retention time.Duration
	logger    zerolog.Logger

	recordings map[string]recording.Recording
	rules      map[string]recording.SeriesRule

	otherRecordings map[string][]recording.Recording
	otherRules      map[string][]recording.SeriesRule
}

// New creates a store rooted at dir for the given session key.
func New(dir, session string, retention time.Duration, logger zerolog.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		dir:             dir,
		session:         session,
		retention:       retention,
		logger:          logger,
		recordings:      make(map[string]recording.Recording),
		rules:           make(map[string]recording.SeriesRule),
		otherRecordings: make(map[string][]recording.Recording),
		otherRules:      make(map[string][]recording.SeriesRule),
	}
}

// Load reads both collection files, migrating the legacy flat-list layout in
// place and pruning expired terminal entries. Missing files are not errors.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// SwitchSession reloads the store for a different session key. The previous
// session's entries remain on disk; the in-memory view is disjoint.
func (s *Store) SwitchSession(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	return s.loadLocked()
}

// Session returns the active session key.
func (s *Store) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Store) loadLocked() error {
	recs, recOthers, recDirty, err := loadCollection[recording.Recording](filepath.Join(s.dir, recordingsFile), s.session)
	if err != nil {
		return fmt.Errorf("load recordings: %w", err)
	}
	rules, ruleOthers, ruleDirty, err := loadCollection[recording.SeriesRule](filepath.Join(s.dir, rulesFile), s.session)
	if err != nil {
		return fmt.Errorf("load series rules: %w", err)
	}

	s.recordings = make(map[string]recording.Recording, len(recs))
	pruned := 0
	cutoff := time.Now().UTC().Add(-s.retention)
	for _, r := range recs {
		if r.Status.Terminal() && r.EndsAt.Before(cutoff) {
			pruned++
			continue
		}
		s.recordings[r.ID] = r
	}
	s.otherRecordings = recOthers

	s.rules = make(map[string]recording.SeriesRule, len(rules))
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	s.otherRules = ruleOthers

	if pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("pruned expired terminal recordings")
	}

	// Rewrite migrated or pruned files so the on-disk layout converges.
	if recDirty || pruned > 0 {
		if err := s.saveRecordingsLocked(); err != nil {
			s.logger.Error().Err(err).Msg("failed to rewrite recordings after load")
		}
	}
	if ruleDirty {
		if err := s.saveRulesLocked(); err != nil {
			s.logger.Error().Err(err).Msg("failed to rewrite series rules after load")
		}
	}
	return nil
}

// AddRecording inserts a recording. A write failure is logged and counted;
// the in-memory state stays authoritative until the next successful write.
func (s *Store) AddRecording(r recording.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[r.ID] = r
	return s.persistRecordingsLocked()
}

// UpdateRecording replaces an existing recording.
func (s *Store) UpdateRecording(r recording.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRecordingNotFound, r.ID)
	}
	s.recordings[r.ID] = r
	return s.persistRecordingsLocked()
}

// Recording returns one entry by id.
func (s *Store) Recording(id string) (recording.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	return r, ok
}

// Recordings returns the active session's recordings ordered by start time.
func (s *Store) Recordings() []recording.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordingsSliceLocked()
}

func (s *Store) recordingsSliceLocked() []recording.Recording {
	out := make([]recording.Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out
}

// Upcoming returns non-terminal recordings starting within the horizon,
// ordered by start time.
func (s *Store) Upcoming(now time.Time, horizon time.Duration) []recording.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recording.Recording
	limit := now.Add(horizon)
	for _, r := range s.recordings {
		if r.Status.Terminal() {
			continue
		}
		if r.StartsAt.After(limit) {
			continue
		}
		if r.EndsAt.Before(now) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

// ChildrenOf returns all recordings owned by the given series rule.
func (s *Store) ChildrenOf(ruleID string) []recording.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recording.Recording
	for _, r := range s.recordings {
		if r.SeriesRuleID == ruleID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

// AddRule inserts a series rule.
func (s *Store) AddRule(r recording.SeriesRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return s.persistRulesLocked()
}

// UpdateRule replaces an existing series rule.
func (s *Store) UpdateRule(r recording.SeriesRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
	}
	s.rules[r.ID] = r
	return s.persistRulesLocked()
}

// DeleteRule removes a series rule. Cancellation of its future children is
// the scheduler's responsibility.
func (s *Store) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	return s.persistRulesLocked()
}

// Rule returns one series rule by id.
func (s *Store) Rule(id string) (recording.SeriesRule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	return r, ok
}

// Rules returns the active session's series rules ordered by creation time.
func (s *Store) Rules() []recording.SeriesRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recording.SeriesRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) persistRecordingsLocked() error {
	if err := s.saveRecordingsLocked(); err != nil {
		metrics.IncStoreWriteFailure()
		s.logger.Error().Err(err).Msg("failed to persist recordings")
		return fmt.Errorf("persist recordings: %w", err)
	}
	return nil
}

func (s *Store) persistRulesLocked() error {
	if err := s.saveRulesLocked(); err != nil {
		metrics.IncStoreWriteFailure()
		s.logger.Error().Err(err).Msg("failed to persist series rules")
		return fmt.Errorf("persist series rules: %w", err)
	}
	return nil
}

func (s *Store) saveRecordingsLocked() error {
	return saveCollection(filepath.Join(s.dir, recordingsFile), s.session, s.recordingsSliceLocked(), s.otherRecordings)
}

func (s *Store) saveRulesLocked() error {
	rules := make([]recording.SeriesRule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return saveCollection(filepath.Join(s.dir, rulesFile), s.session, rules, s.otherRules)
}
