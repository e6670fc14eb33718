// SPDX-License-Identifier: MIT

// Package recorder supervises external capture processes. Each capture runs
// in its own process group so that stopping a recording also reaps any
// children the capture tool spawned.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/events"
	"github.com/ottrec/ottrec/internal/procgroup"
)

var (
	// ErrManualSlotBusy is returned when all manual capture slots are taken.
	ErrManualSlotBusy = errors.New("manual recording slot busy")
	// ErrNotRunning is returned by Stop for an unknown recording id.
	ErrNotRunning = errors.New("recording process not running")
	// ErrAlreadyRunning guards against double starts for the same recording.
	ErrAlreadyRunning = errors.New("recording process already running")
)

// DefaultGrace is the SIGTERM-to-SIGKILL window applied when none is
// configured.
const DefaultGrace = 5 * time.Second

// Handle tracks one running capture process.
type Handle struct {
	RecordingID string
	Manual      bool
	StartedAt   time.Time

	cmd    *exec.Cmd
	waitCh chan error
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
	exited  bool

	// stopping is guarded by the supervisor mutex and makes Stop idempotent
	// while a termination is in flight.
	stopping bool
}

// Done is closed once the capture process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the capture process has terminated on its own.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// ExitErr returns the wait error once the process has exited, nil otherwise.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) setExit(err error) {
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.mu.Unlock()
	close(h.done)
}

// Supervisor starts and stops capture processes and enforces the manual
// slot budget. Scheduled captures are never capped.
type Supervisor struct {
	builder     InvocationBuilder
	bus         *events.Bus
	logger      zerolog.Logger
	grace       time.Duration
	manualSlots int

	mu          sync.Mutex
	procs       map[string]*Handle
	manualCount int
}

// NewSupervisor constructs a supervisor. manualSlots <= 0 means one slot.
func NewSupervisor(builder InvocationBuilder, bus *events.Bus, grace time.Duration, manualSlots int, logger zerolog.Logger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if manualSlots <= 0 {
		manualSlots = 1
	}
	return &Supervisor{
		builder:     builder,
		bus:         bus,
		logger:      logger,
		grace:       grace,
		manualSlots: manualSlots,
		procs:       make(map[string]*Handle),
	}
}

// Start launches the capture process for spec. The returned handle stays
// owned by the supervisor; callers observe it but stop through Stop.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.StreamURL == "" {
		return nil, errors.New("stream url is empty")
	}
	name, args, err := s.builder.Build(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.procs[spec.RecordingID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, spec.RecordingID)
	}
	if spec.Manual && s.manualCount >= s.manualSlots {
		s.mu.Unlock()
		return nil, ErrManualSlotBusy
	}
	if spec.Manual {
		s.manualCount++
	}
	s.mu.Unlock()

	if dir := filepath.Dir(spec.OutputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.release(spec)
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	cmd := exec.Command(name, args...)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.release(spec)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.release(spec)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.release(spec)
		return nil, fmt.Errorf("start capture %s: %w", name, err)
	}

	h := &Handle{
		RecordingID: spec.RecordingID,
		Manual:      spec.Manual,
		StartedAt:   time.Now(),
		cmd:         cmd,
		waitCh:      make(chan error, 1),
		done:        make(chan struct{}),
	}

	procLogger := s.logger.With().
		Str("recording_id", spec.RecordingID).
		Int("pid", cmd.Process.Pid).
		Logger()
	go forwardLines(stdout, procLogger, "stdout")
	go forwardLines(stderr, procLogger, "stderr")

	go func() {
		err := cmd.Wait()
		h.setExit(err)
		h.waitCh <- err
	}()

	s.mu.Lock()
	s.procs[spec.RecordingID] = h
	s.mu.Unlock()

	procLogger.Info().Str("binary", name).Str("output", spec.OutputPath).Msg("capture started")
	s.bus.Publish(events.EventRecordingStarted, events.Payload{
		"recording_id": spec.RecordingID,
		"title":        spec.Title,
		"pid":          cmd.Process.Pid,
	})
	return h, nil
}

// Stop terminates the capture for the given recording id: SIGTERM to the
// process group, then SIGKILL after the grace window. The handle stays
// tracked until termination completes so that pollers observing the process
// still see it. Concurrent Stop calls for the same id return nil while the
// first one is in flight. The returned error is the process exit error,
// which is expected to be non-nil for a signalled capture tool.
func (s *Supervisor) Stop(recordingID string) error {
	s.mu.Lock()
	h, ok := s.procs[recordingID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, recordingID)
	}
	if h.stopping {
		s.mu.Unlock()
		return nil
	}
	h.stopping = true
	s.mu.Unlock()

	err := procgroup.Terminate(h.cmd, h.waitCh, s.grace)

	s.mu.Lock()
	delete(s.procs, recordingID)
	if h.Manual {
		s.manualCount--
	}
	s.mu.Unlock()
	s.logger.Info().
		Str("recording_id", recordingID).
		Dur("runtime", time.Since(h.StartedAt)).
		Msg("capture stopped")
	s.bus.Publish(events.EventRecordingStopped, events.Payload{
		"recording_id": recordingID,
	})
	return err
}

// Running reports whether a capture process is tracked for the id.
func (s *Supervisor) Running(recordingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[recordingID]
	return ok
}

// Handle returns the tracked handle for the id, if any.
func (s *Supervisor) Handle(recordingID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.procs[recordingID]
	return h, ok
}

// StopAll terminates every tracked capture. Used at daemon shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Stop(id); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Debug().Err(err).Str("recording_id", id).Msg("capture exit status")
		}
	}
}

func (s *Supervisor) release(spec Spec) {
	if !spec.Manual {
		return
	}
	s.mu.Lock()
	s.manualCount--
	s.mu.Unlock()
}

// forwardLines relays capture tool output into the structured log at debug
// level, one event per line.
func forwardLines(r io.Reader, logger zerolog.Logger, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logger.Debug().Str("stream", stream).Msg(scanner.Text())
	}
}
