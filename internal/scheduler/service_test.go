// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/events"
	"github.com/ottrec/ottrec/internal/recorder"
	"github.com/ottrec/ottrec/internal/recording"
	"github.com/ottrec/ottrec/internal/store"
)

type fakeProc struct {
	mu      sync.Mutex
	exited  bool
	exitErr error
}

func (p *fakeProc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *fakeProc) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProc) exit(err error) {
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	p.mu.Unlock()
}

type fakeSupervisor struct {
	mu       sync.Mutex
	procs    map[string]*fakeProc
	started  []recorder.Spec
	stopped  []string
	startErr error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{procs: make(map[string]*fakeProc)}
}

func (f *fakeSupervisor) Start(_ context.Context, spec recorder.Spec) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	p := &fakeProc{}
	f.procs[spec.RecordingID] = p
	f.started = append(f.started, spec)
	return p, nil
}

func (f *fakeSupervisor) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[id]
	if !ok {
		return recorder.ErrNotRunning
	}
	p.exit(errors.New("signal: terminated"))
	delete(f.procs, id)
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeSupervisor) Running(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[id]
	return ok
}

func (f *fakeSupervisor) Process(id string) (Process, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[id]
	return p, ok
}

func (f *fakeSupervisor) stopCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.stopped {
		if s == id {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *fakeSupervisor, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), "test", 0, zerolog.Nop())
	if err := st.Load(); err != nil {
		t.Fatal(err)
	}
	sup := newFakeSupervisor()
	svc := New(st, sup, nil, nil, events.NewBus(), "/rec", zerolog.Nop())
	return svc, sup, st
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func futureRecording(id string, start time.Time) recording.Recording {
	return recording.Recording{
		ID:        id,
		Title:     "Show",
		ChannelID: "ch-1",
		StreamURL: "http://example.test/stream",
		StartsAt:  start,
		EndsAt:    start.Add(30 * time.Minute),
	}
}

func TestScheduleRecordingAssignsDefaults(t *testing.T) {
	svc, _, st := newTestService(t)
	rec, err := svc.ScheduleRecording(context.Background(),
		futureRecording("", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("ScheduleRecording() = %v", err)
	}
	if rec.ID == "" {
		t.Error("id not assigned")
	}
	if rec.Status != recording.StatusScheduled {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.OutputPath == "" {
		t.Error("output path not derived")
	}
	if _, ok := st.Recording(rec.ID); !ok {
		t.Error("not persisted")
	}
}

func TestScheduleRecordingRejectsInvalid(t *testing.T) {
	svc, _, st := newTestService(t)
	bad := futureRecording("", time.Now().Add(time.Hour))
	bad.EndsAt = bad.StartsAt.Add(-time.Minute)

	_, err := svc.ScheduleRecording(context.Background(), bad)
	var vErr *recording.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(st.Recordings()) != 0 {
		t.Error("invalid request must not be persisted")
	}
}

func TestUpdateRecordingOnlyWhenScheduled(t *testing.T) {
	svc, _, st := newTestService(t)
	rec, err := svc.ScheduleRecording(context.Background(),
		futureRecording("", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	rec.Title = "Renamed"
	if _, err := svc.UpdateRecording(context.Background(), rec); err != nil {
		t.Fatalf("update scheduled: %v", err)
	}

	stored, _ := st.Recording(rec.ID)
	stored.Status = recording.StatusRecording
	if err := st.UpdateRecording(stored); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateRecording(context.Background(), rec); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("want ErrNotEditable, got %v", err)
	}
}

func TestCancelScheduled(t *testing.T) {
	svc, sup, st := newTestService(t)
	rec, err := svc.ScheduleRecording(context.Background(),
		futureRecording("", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelRecording(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := st.Recording(rec.ID)
	if got.Status != recording.StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	if sup.stopCount(rec.ID) != 0 {
		t.Error("no capture to stop for a scheduled entry")
	}
	// Cancel is not repeatable.
	if err := svc.CancelRecording(context.Background(), rec.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestCancelInProgressStopsCapture(t *testing.T) {
	svc, sup, st := newTestService(t)
	now := time.Now()
	rec := futureRecording("live", now.Add(-time.Minute))
	rec.Status = recording.StatusRecording
	rec.CreatedAt = now
	if err := st.AddRecording(rec); err != nil {
		t.Fatal(err)
	}
	if _, err := sup.Start(context.Background(), recorder.Spec{RecordingID: "live"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.CancelRecording(context.Background(), "live"); err != nil {
		t.Fatal(err)
	}
	got, _ := st.Recording("live")
	if got.Status != recording.StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	waitFor(t, func() bool { return sup.stopCount("live") == 1 }, "capture not stopped")
}

func TestRemoveSeriesRuleCascades(t *testing.T) {
	svc, _, st := newTestService(t)
	rule, err := svc.AddSeriesRule(context.Background(), recording.SeriesRule{
		Name: "Show", ChannelID: "ch-1", Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	scheduled := futureRecording("child-sched", now.Add(time.Hour))
	scheduled.Status = recording.StatusScheduled
	scheduled.SeriesRuleID = rule.ID
	done := futureRecording("child-done", now.Add(-2*time.Hour))
	done.Status = recording.StatusCompleted
	done.SeriesRuleID = rule.ID
	for _, r := range []recording.Recording{scheduled, done} {
		if err := st.AddRecording(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.RemoveSeriesRule(context.Background(), rule.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Rule(rule.ID); ok {
		t.Error("rule still present")
	}
	got, _ := st.Recording("child-sched")
	if got.Status != recording.StatusCancelled {
		t.Errorf("scheduled child status = %s, want cancelled", got.Status)
	}
	got, _ = st.Recording("child-done")
	if got.Status != recording.StatusCompleted {
		t.Errorf("terminal child status = %s, must be untouched", got.Status)
	}
}

func TestAddSeriesRuleDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	rule, err := svc.AddSeriesRule(context.Background(), recording.SeriesRule{
		Name: "Show", ChannelID: "ch-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rule.MatchMode != recording.MatchContains {
		t.Errorf("match mode = %s, want contains", rule.MatchMode)
	}
	if _, err := svc.AddSeriesRule(context.Background(), recording.SeriesRule{ChannelID: "ch-1"}); err == nil {
		t.Error("nameless rule must be rejected")
	}
}
