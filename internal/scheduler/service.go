// SPDX-License-Identifier: MIT

// Package scheduler reconciles recording intents against wall-clock time. It
// owns all status transitions: the poller decides when captures start, stop,
// fail or are declared missed, and the mutation operations validate requests
// before anything is persisted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/events"
	"github.com/ottrec/ottrec/internal/metrics"
	"github.com/ottrec/ottrec/internal/recorder"
	"github.com/ottrec/ottrec/internal/recording"
	"github.com/ottrec/ottrec/internal/series"
	"github.com/ottrec/ottrec/internal/store"
)

var (
	// ErrInvalidTransition is returned when a requested status change is not
	// an edge of the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotEditable is returned when updating a recording that already left
	// the scheduled state.
	ErrNotEditable = errors.New("only scheduled recordings can be edited")
)

// StreamResolver resolves a channel id to a capture URL at start time, for
// recordings scheduled without one.
type StreamResolver interface {
	ResolveStreamURL(ctx context.Context, channelID string) (string, error)
}

// Process is the scheduler's view of one running capture.
type Process interface {
	Exited() bool
	ExitErr() error
}

// Supervisor is the scheduler's view of the capture supervisor.
type Supervisor interface {
	Start(ctx context.Context, spec recorder.Spec) (Process, error)
	Stop(recordingID string) error
	Running(recordingID string) bool
	Process(recordingID string) (Process, bool)
}

// WrapSupervisor adapts the concrete capture supervisor.
func WrapSupervisor(s *recorder.Supervisor) Supervisor {
	return realSupervisor{s: s}
}

type realSupervisor struct{ s *recorder.Supervisor }

func (r realSupervisor) Start(ctx context.Context, spec recorder.Spec) (Process, error) {
	h, err := r.s.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}
func (r realSupervisor) Stop(recordingID string) error   { return r.s.Stop(recordingID) }
func (r realSupervisor) Running(recordingID string) bool { return r.s.Running(recordingID) }
func (r realSupervisor) Process(recordingID string) (Process, bool) {
	h, ok := r.s.Handle(recordingID)
	if !ok {
		return nil, false
	}
	return h, true
}

// Service ties the store, capture supervisor and series engine together.
type Service struct {
	store    *store.Store
	sup      Supervisor
	engine   *series.Engine
	resolver StreamResolver
	bus      *events.Bus
	logger   zerolog.Logger

	// OutputDir is where derived output paths for manual recordings point.
	OutputDir string

	// Tick is the reconciliation poll interval.
	Tick time.Duration
	// StartTolerance is the window after the effective start inside which a
	// capture is still launched. It must exceed Tick or starts are skipped.
	StartTolerance time.Duration
	// OverrunGrace bounds how long past its effective end a capture may run
	// before it is force-stopped.
	OverrunGrace time.Duration

	// Series refresh cadence with error backoff.
	SeriesInterval     time.Duration
	SeriesMaxInterval  time.Duration
	SeriesJitter       time.Duration
	SeriesStartupDelay time.Duration

	clock Clock
	wg    sync.WaitGroup

	mu                    sync.Mutex
	currentSeriesInterval time.Duration
}

// New constructs the scheduler service with production defaults.
func New(st *store.Store, sup Supervisor, engine *series.Engine, resolver StreamResolver, bus *events.Bus, outputDir string, logger zerolog.Logger) *Service {
	return &Service{
		store:              st,
		sup:                sup,
		engine:             engine,
		resolver:           resolver,
		bus:                bus,
		logger:             logger,
		OutputDir:          outputDir,
		Tick:               30 * time.Second,
		StartTolerance:     2 * time.Minute,
		OverrunGrace:       5 * time.Minute,
		SeriesInterval:     6 * time.Hour,
		SeriesMaxInterval:  24 * time.Hour,
		SeriesJitter:       60 * time.Second,
		SeriesStartupDelay: 90 * time.Second,
		clock:              RealClock{},
	}
}

// ScheduleRecording validates and persists a new recording intent. Conflicts
// with existing scheduled entries are advisory: they are logged and reported
// by HasConflictingRecording, but never block scheduling.
func (s *Service) ScheduleRecording(ctx context.Context, rec recording.Recording) (recording.Recording, error) {
	now := s.clock.Now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = recording.StatusScheduled
	rec.CreatedAt = now.UTC()
	if err := rec.Validate(now); err != nil {
		return recording.Recording{}, err
	}
	if rec.OutputPath == "" {
		rec.OutputPath = recording.DeriveOutputPath(s.OutputDir, rec.ChannelName, rec.Title, rec.StartsAt)
	}

	if recording.HasConflict(s.store.Recordings(), rec.EffectiveStart(), rec.EffectiveEnd(), rec.ID) {
		s.logger.Warn().Str("id", rec.ID).Str("title", rec.Title).Msg("recording overlaps an existing scheduled entry")
	}

	if err := s.store.AddRecording(rec); err != nil {
		return recording.Recording{}, err
	}
	s.logger.Info().Str("id", rec.ID).Str("title", rec.Title).Time("starts_at", rec.StartsAt).Msg("recording scheduled")
	return rec, nil
}

// UpdateRecording replaces a scheduled recording's plan. Recordings that
// already started, finished or failed are immutable.
func (s *Service) UpdateRecording(ctx context.Context, rec recording.Recording) (recording.Recording, error) {
	existing, ok := s.store.Recording(rec.ID)
	if !ok {
		return recording.Recording{}, fmt.Errorf("%w: %s", store.ErrRecordingNotFound, rec.ID)
	}
	if existing.Status != recording.StatusScheduled {
		return recording.Recording{}, fmt.Errorf("%w: %s is %s", ErrNotEditable, rec.ID, existing.Status)
	}
	rec.Status = existing.Status
	rec.CreatedAt = existing.CreatedAt
	rec.SeriesRuleID = existing.SeriesRuleID
	if err := rec.Validate(s.clock.Now()); err != nil {
		return recording.Recording{}, err
	}
	if rec.OutputPath == "" {
		rec.OutputPath = recording.DeriveOutputPath(s.OutputDir, rec.ChannelName, rec.Title, rec.StartsAt)
	}
	if err := s.store.UpdateRecording(rec); err != nil {
		return recording.Recording{}, err
	}
	return rec, nil
}

// CancelRecording cancels a scheduled or in-progress recording. The status
// change is synchronous; stopping an in-progress capture is dispatched in the
// background and is best effort.
func (s *Service) CancelRecording(ctx context.Context, id string) error {
	rec, ok := s.store.Recording(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrRecordingNotFound, id)
	}
	if !recording.CanTransition(rec.Status, recording.StatusCancelled) {
		return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, rec.Status)
	}
	wasRecording := rec.Status == recording.StatusRecording

	rec.Status = recording.StatusCancelled
	if err := s.store.UpdateRecording(rec); err != nil {
		return err
	}
	metrics.IncRecordingTransition(string(recording.StatusCancelled))
	s.logger.Info().Str("id", id).Msg("recording cancelled")

	if wasRecording {
		go func() {
			if err := s.sup.Stop(id); err != nil && !errors.Is(err, recorder.ErrNotRunning) {
				s.logger.Debug().Err(err).Str("id", id).Msg("capture exit status after cancel")
			}
		}()
	}
	return nil
}

// Recording returns one recording by id.
func (s *Service) Recording(id string) (recording.Recording, bool) {
	return s.store.Recording(id)
}

// Recordings lists the active session's recordings.
func (s *Service) Recordings() []recording.Recording {
	return s.store.Recordings()
}

// GetUpcomingRecordings lists non-terminal recordings within the horizon.
func (s *Service) GetUpcomingRecordings(horizon time.Duration) []recording.Recording {
	return s.store.Upcoming(s.clock.Now(), horizon)
}

// HasConflictingRecording reports whether the window overlaps an existing
// scheduled recording. Purely advisory.
func (s *Service) HasConflictingRecording(start, end time.Time, excludeID string) bool {
	return recording.HasConflict(s.store.Recordings(), start, end, excludeID)
}

// AddSeriesRule persists a new series rule. The first matcher pass happens on
// the next refresh cycle or an explicit RunSeriesRule.
func (s *Service) AddSeriesRule(ctx context.Context, rule recording.SeriesRule) (recording.SeriesRule, error) {
	if rule.Name == "" {
		return recording.SeriesRule{}, &recording.ValidationError{Reason: "rule name is required"}
	}
	if rule.ChannelID == "" {
		return recording.SeriesRule{}, &recording.ValidationError{Reason: "channel id is required"}
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.MatchMode == "" {
		rule.MatchMode = recording.MatchContains
	}
	rule.CreatedAt = s.clock.Now().UTC()
	rule.RecurrencePattern = series.PatternNoEpisodes
	if err := s.store.AddRule(rule); err != nil {
		return recording.SeriesRule{}, err
	}
	s.logger.Info().Str("rule_id", rule.ID).Str("name", rule.Name).Msg("series rule added")
	return rule, nil
}

// UpdateSeriesRule replaces a rule's settings, preserving its dedup set and
// bookkeeping.
func (s *Service) UpdateSeriesRule(ctx context.Context, rule recording.SeriesRule) (recording.SeriesRule, error) {
	existing, ok := s.store.Rule(rule.ID)
	if !ok {
		return recording.SeriesRule{}, fmt.Errorf("%w: %s", store.ErrRuleNotFound, rule.ID)
	}
	if rule.Name == "" {
		return recording.SeriesRule{}, &recording.ValidationError{Reason: "rule name is required"}
	}
	if rule.MatchMode == "" {
		rule.MatchMode = existing.MatchMode
	}
	rule.RecordedTitles = existing.RecordedTitles
	rule.LastCheckedAt = existing.LastCheckedAt
	rule.LastRecordedAt = existing.LastRecordedAt
	rule.NextRecordingAt = existing.NextRecordingAt
	rule.NextRecordingTitle = existing.NextRecordingTitle
	rule.RecurrencePattern = existing.RecurrencePattern
	rule.CreatedAt = existing.CreatedAt
	if err := s.store.UpdateRule(rule); err != nil {
		return recording.SeriesRule{}, err
	}
	return rule, nil
}

// RemoveSeriesRule deletes a rule and cancels its not-yet-started children.
// In-progress captures keep running to completion.
func (s *Service) RemoveSeriesRule(ctx context.Context, id string) error {
	if _, ok := s.store.Rule(id); !ok {
		return fmt.Errorf("%w: %s", store.ErrRuleNotFound, id)
	}
	cancelled := 0
	for _, child := range s.store.ChildrenOf(id) {
		if child.Status != recording.StatusScheduled {
			continue
		}
		child.Status = recording.StatusCancelled
		if err := s.store.UpdateRecording(child); err != nil {
			s.logger.Error().Err(err).Str("id", child.ID).Msg("cancel rule child")
			continue
		}
		metrics.IncRecordingTransition(string(recording.StatusCancelled))
		cancelled++
	}
	if err := s.store.DeleteRule(id); err != nil {
		return err
	}
	s.logger.Info().Str("rule_id", id).Int("children_cancelled", cancelled).Msg("series rule removed")
	return nil
}

// SeriesRule returns one rule by id.
func (s *Service) SeriesRule(id string) (recording.SeriesRule, bool) {
	return s.store.Rule(id)
}

// SeriesRules lists the active session's rules.
func (s *Service) SeriesRules() []recording.SeriesRule {
	return s.store.Rules()
}

// RunSeriesRule triggers an immediate matcher pass for one rule (or all rules
// when id is empty).
func (s *Service) RunSeriesRule(ctx context.Context, id string) ([]series.RuleRunReport, error) {
	return s.engine.RunOnce(ctx, "manual", id)
}
