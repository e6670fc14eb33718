// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ottrec/ottrec/internal/events"
	"github.com/ottrec/ottrec/internal/metrics"
	"github.com/ottrec/ottrec/internal/recorder"
	"github.com/ottrec/ottrec/internal/recording"
	"github.com/ottrec/ottrec/internal/telemetry"
)

// Start launches the reconciliation and series refresh loops. They stop when
// ctx is cancelled; Wait blocks until both have drained.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.recordingLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.seriesLoop(ctx)
	}()
}

// Wait blocks until both loops have exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) recordingLoop(ctx context.Context) {
	s.logger.Info().Dur("tick", s.Tick).Msg("recording poller started")
	timer := s.clock.NewTimer(s.Tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("recording poller stopping")
			return
		case <-timer.C():
			metrics.IncSchedulerTick()
			s.ReconcileOnce(ctx, s.clock.Now())
			timer.Reset(s.Tick)
		}
	}
}

// ReconcileOnce runs one reconciliation pass. At most one transition is
// applied per recording per pass; the priority order is missed detection,
// then starts, then supervision of in-progress captures.
func (s *Service) ReconcileOnce(ctx context.Context, now time.Time) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.reconcile")
	defer span.End()

	for _, rec := range s.store.Recordings() {
		switch {
		case rec.IsMissed(now):
			s.markMissed(rec)
		case rec.ShouldStartNow(now, s.StartTolerance):
			s.startCapture(ctx, rec)
		case rec.Status == recording.StatusRecording:
			s.superviseCapture(rec, now)
		}
	}
}

func (s *Service) markMissed(rec recording.Recording) {
	rec.Status = recording.StatusMissed
	rec.ErrorMessage = "start window elapsed before capture could begin"
	if err := s.store.UpdateRecording(rec); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("persist missed status")
	}
	metrics.IncRecordingTransition(string(recording.StatusMissed))
	s.logger.Warn().Str("id", rec.ID).Str("title", rec.Title).Msg("recording missed")
	s.bus.Publish(events.EventRecordingFailed, events.Payload{
		"recording_id": rec.ID,
		"reason":       "missed",
	})
}

func (s *Service) startCapture(ctx context.Context, rec recording.Recording) {
	if rec.StreamURL == "" && s.resolver != nil {
		url, err := s.resolver.ResolveStreamURL(ctx, rec.ChannelID)
		if err != nil {
			s.failCapture(rec, "resolve stream url: "+err.Error())
			return
		}
		rec.StreamURL = url
	}

	rec.Status = recording.StatusRecording
	if err := s.store.UpdateRecording(rec); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("persist recording status")
	}

	_, err := s.sup.Start(ctx, recorder.Spec{
		RecordingID: rec.ID,
		StreamURL:   rec.StreamURL,
		Title:       rec.Title,
		OutputPath:  rec.OutputPath,
		Manual:      !rec.IsEPGBased && rec.SeriesRuleID == "",
	})
	if err != nil {
		s.failCapture(rec, err.Error())
		return
	}
	metrics.IncRecordingTransition(string(recording.StatusRecording))
	s.logger.Info().Str("id", rec.ID).Str("title", rec.Title).Msg("capture launched")
}

// superviseCapture drives an in-progress capture. A capture stays in the
// recording state until its process exit is observed; stop requests past the
// effective end are dispatched asynchronously, and a capture that survives
// the overrun grace is force-completed anyway.
func (s *Service) superviseCapture(rec recording.Recording, now time.Time) {
	// A capture that disappeared after its window ended was stopped and
	// reaped between ticks; that is the normal completion path. Before the
	// window ends, a missing process is a failure.
	proc, tracked := s.sup.Process(rec.ID)
	if !tracked {
		if now.Before(rec.EffectiveEnd()) {
			s.failCapture(rec, "capture process is no longer tracked")
		} else {
			s.completeCapture(rec)
		}
		return
	}

	if proc.Exited() {
		if now.Before(rec.EffectiveEnd()) {
			reason := "capture process exited before the recording window ended"
			if err := proc.ExitErr(); err != nil {
				reason = "capture process exited early: " + err.Error()
			}
			s.failCapture(rec, reason)
		} else {
			s.completeCapture(rec)
		}
		s.dispatchStop(rec.ID, "reap capture")
		return
	}

	switch {
	case now.After(rec.EffectiveEnd().Add(s.OverrunGrace)):
		// The capture ignored SIGTERM or the stop was lost. Record the
		// completion now; the kill escalation runs in the background.
		s.logger.Warn().Str("id", rec.ID).Msg("capture overran its window, forcing completion")
		s.completeCapture(rec)
		s.dispatchStop(rec.ID, "force stop overrun capture")
	case rec.ShouldStopNow(now):
		s.dispatchStop(rec.ID, "stop capture at window end")
	}
}

func (s *Service) completeCapture(rec recording.Recording) {
	rec.Status = recording.StatusCompleted
	rec.ErrorMessage = ""
	if err := s.store.UpdateRecording(rec); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("persist completed status")
	}
	metrics.IncRecordingTransition(string(recording.StatusCompleted))
	s.logger.Info().Str("id", rec.ID).Str("title", rec.Title).Msg("recording completed")
}

// dispatchStop signals the capture in the background. The supervisor makes
// concurrent stops for the same id idempotent, so re-dispatching on every
// tick past the window end is safe. Stop blocks for up to the kill grace and
// must not stall the poller.
func (s *Service) dispatchStop(id, what string) {
	go func() {
		if err := s.sup.Stop(id); err != nil && !errors.Is(err, recorder.ErrNotRunning) {
			s.logger.Debug().Err(err).Str("id", id).Msg(what)
		}
	}()
}

func (s *Service) failCapture(rec recording.Recording, reason string) {
	rec.Status = recording.StatusFailed
	rec.ErrorMessage = reason
	if err := s.store.UpdateRecording(rec); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("persist failed status")
	}
	metrics.IncRecordingTransition(string(recording.StatusFailed))
	s.logger.Error().Str("id", rec.ID).Str("title", rec.Title).Str("reason", reason).Msg("recording failed")
	s.bus.Publish(events.EventRecordingFailed, events.Payload{
		"recording_id": rec.ID,
		"reason":       reason,
	})
}

func (s *Service) seriesLoop(ctx context.Context) {
	s.logger.Info().Dur("interval", s.SeriesInterval).Msg("series refresh loop started")
	timer := s.clock.NewTimer(s.nextSeriesDuration(true))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("series refresh loop stopping")
			return
		case <-timer.C():
			reports, err := s.engine.RunOnce(ctx, "auto", "")
			if err != nil {
				s.logger.Error().Err(err).Msg("series refresh failed, backing off")
				s.increaseSeriesBackoff()
			} else {
				failed := false
				for _, r := range reports {
					if r.Status != "success" {
						failed = true
						s.logger.Warn().
							Str("rule_id", r.RuleID).
							Str("error", r.Error).
							Msg("series rule refresh failed")
						continue
					}
					if r.Created > 0 {
						s.logger.Info().
							Str("rule_id", r.RuleID).
							Int("scanned", r.Scanned).
							Int("created", r.Created).
							Int("skipped", r.Skipped).
							Msg("series rule refreshed")
					} else {
						s.logger.Debug().Str("rule_id", r.RuleID).Msg("series rule idle")
					}
				}
				if failed {
					s.increaseSeriesBackoff()
				} else {
					s.resetSeriesBackoff()
				}
			}
			timer.Reset(s.nextSeriesDuration(false))
		}
	}
}

func (s *Service) nextSeriesDuration(first bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if first {
		return s.SeriesStartupDelay + s.seriesJitter()
	}
	interval := s.currentSeriesInterval
	if interval == 0 {
		interval = s.SeriesInterval
	}
	return interval + s.seriesJitter()
}

// seriesJitter returns a random offset in [-Jitter, +Jitter] so that many
// instances never hammer the EPG source in lockstep.
func (s *Service) seriesJitter() time.Duration {
	if s.SeriesJitter == 0 {
		return 0
	}
	ms := int64(s.SeriesJitter / time.Millisecond)
	return time.Duration(rand.Int63n(ms*2)-ms) * time.Millisecond
}

func (s *Service) increaseSeriesBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSeriesInterval == 0 {
		s.currentSeriesInterval = s.SeriesInterval
	}
	s.currentSeriesInterval *= 2
	if s.currentSeriesInterval > s.SeriesMaxInterval {
		s.currentSeriesInterval = s.SeriesMaxInterval
	}
	s.logger.Info().Str("next_interval", s.currentSeriesInterval.String()).Msg("series backoff increased")
}

func (s *Service) resetSeriesBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSeriesInterval != 0 && s.currentSeriesInterval != s.SeriesInterval {
		s.logger.Info().Str("next_interval", s.SeriesInterval.String()).Msg("series backoff reset")
	}
	s.currentSeriesInterval = s.SeriesInterval
}
