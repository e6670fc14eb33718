// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/recording"
)

// testNow tracks the wall clock because Load prunes against time.Now.
var testNow = time.Now().UTC().Truncate(time.Second)

func newTestStore(t *testing.T, session string) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, session, 0, zerolog.Nop())
	if err := s.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	return s, dir
}

func testRecording(id string, start time.Time) recording.Recording {
	return recording.Recording{
		ID:        id,
		Title:     "Show " + id,
		ChannelID: "ch-1",
		StartsAt:  start,
		EndsAt:    start.Add(30 * time.Minute),
		Status:    recording.StatusScheduled,
		CreatedAt: testNow,
	}
}

func TestRoundTrip(t *testing.T) {
	s, dir := newTestStore(t, "acct-a")
	rec := testRecording("r1", testNow.Add(time.Hour))
	rec.PreBufferMinutes = 2
	rec.OutputPath = "/rec/show.ts"

	if err := s.AddRecording(rec); err != nil {
		t.Fatalf("AddRecording() = %v", err)
	}

	rule := recording.SeriesRule{
		ID: "sr1", Name: "Show", ChannelID: "ch-1",
		MatchMode: recording.MatchContains, Enabled: true, CreatedAt: testNow,
		RecordedTitles: []string{"Show r1"},
	}
	if err := s.AddRule(rule); err != nil {
		t.Fatalf("AddRule() = %v", err)
	}

	// A fresh store over the same directory must see identical data.
	reloaded := New(dir, "acct-a", 0, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	gotRec, ok := reloaded.Recording("r1")
	if !ok {
		t.Fatal("recording lost on reload")
	}
	if diff := cmp.Diff(rec, gotRec); diff != "" {
		t.Errorf("recording mismatch (-want +got):\n%s", diff)
	}
	gotRule, ok := reloaded.Rule("sr1")
	if !ok {
		t.Fatal("rule lost on reload")
	}
	if diff := cmp.Diff(rule, gotRule); diff != "" {
		t.Errorf("rule mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateMissingRecording(t *testing.T) {
	s, _ := newTestStore(t, "acct-a")
	err := s.UpdateRecording(testRecording("ghost", testNow))
	if err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestLegacyFlatListMigration(t *testing.T) {
	dir := t.TempDir()
	legacy := []recording.Recording{testRecording("old1", testNow.Add(time.Hour))}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, recordingsFile), data, 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(dir, "acct-a", 0, zerolog.Nop())
	if err := s.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if _, ok := s.Recording("old1"); !ok {
		t.Fatal("legacy entry not assigned to active session")
	}

	// The file must have been rewritten in the keyed layout.
	raw, err := os.ReadFile(filepath.Join(dir, recordingsFile))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Version  int                                `json:"version"`
		Sessions map[string][]recording.Recording `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("rewritten file is not keyed: %v", err)
	}
	if doc.Version != formatVersion {
		t.Errorf("version = %d, want %d", doc.Version, formatVersion)
	}
	if len(doc.Sessions["acct-a"]) != 1 {
		t.Errorf("sessions[acct-a] = %d entries, want 1", len(doc.Sessions["acct-a"]))
	}
}

func TestSessionIsolation(t *testing.T) {
	s, dir := newTestStore(t, "acct-a")
	if err := s.AddRecording(testRecording("a1", testNow.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	if err := s.SwitchSession("acct-b"); err != nil {
		t.Fatalf("SwitchSession() = %v", err)
	}
	if len(s.Recordings()) != 0 {
		t.Fatal("session b must start empty")
	}
	if err := s.AddRecording(testRecording("b1", testNow.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}

	// Switching back must restore session a untouched.
	if err := s.SwitchSession("acct-a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Recording("a1"); !ok {
		t.Error("session a entry lost after switch")
	}
	if _, ok := s.Recording("b1"); ok {
		t.Error("session b entry visible in session a")
	}

	// Both sessions must survive a cold reload.
	fresh := New(dir, "acct-b", 0, zerolog.Nop())
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := fresh.Recording("b1"); !ok {
		t.Error("session b entry lost on disk")
	}
}

func TestPruneExpiredTerminal(t *testing.T) {
	s, dir := newTestStore(t, "acct-a")

	old := testRecording("old", testNow.Add(-10*24*time.Hour))
	old.Status = recording.StatusCompleted
	recent := testRecording("recent", testNow.Add(-2*24*time.Hour))
	recent.Status = recording.StatusCompleted
	oldScheduled := testRecording("stale-sched", testNow.Add(-10*24*time.Hour))

	for _, r := range []recording.Recording{old, recent, oldScheduled} {
		if err := s.AddRecording(r); err != nil {
			t.Fatal(err)
		}
	}

	reloaded := New(dir, "acct-a", 7*24*time.Hour, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.Recording("old"); ok {
		t.Error("expired terminal entry survived prune")
	}
	if _, ok := reloaded.Recording("recent"); !ok {
		t.Error("recent terminal entry must be kept")
	}
	// Non-terminal entries are never pruned regardless of age; the poller
	// will mark them missed.
	if _, ok := reloaded.Recording("stale-sched"); !ok {
		t.Error("non-terminal entry must be kept")
	}
}

func TestUpcoming(t *testing.T) {
	s, _ := newTestStore(t, "acct-a")

	soon := testRecording("soon", testNow.Add(time.Hour))
	far := testRecording("far", testNow.Add(48*time.Hour))
	done := testRecording("done", testNow.Add(2*time.Hour))
	done.Status = recording.StatusCancelled

	for _, r := range []recording.Recording{far, soon, done} {
		if err := s.AddRecording(r); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Upcoming(testNow, 24*time.Hour)
	if len(got) != 1 || got[0].ID != "soon" {
		t.Fatalf("Upcoming() = %+v, want [soon]", got)
	}
}

func TestChildrenOf(t *testing.T) {
	s, _ := newTestStore(t, "acct-a")
	child := testRecording("c1", testNow.Add(time.Hour))
	child.SeriesRuleID = "sr1"
	other := testRecording("c2", testNow.Add(2*time.Hour))

	for _, r := range []recording.Recording{child, other} {
		if err := s.AddRecording(r); err != nil {
			t.Fatal(err)
		}
	}
	got := s.ChildrenOf("sr1")
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("ChildrenOf() = %+v", got)
	}
}

func TestDeleteRule(t *testing.T) {
	s, _ := newTestStore(t, "acct-a")
	if err := s.AddRule(recording.SeriesRule{ID: "sr1", Name: "Show", ChannelID: "ch-1", CreatedAt: testNow}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRule("sr1"); err != nil {
		t.Fatalf("DeleteRule() = %v", err)
	}
	if err := s.DeleteRule("sr1"); err == nil {
		t.Fatal("second delete must fail")
	}
}
