// SPDX-License-Identifier: MIT

package epgsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFetchEPG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/epg" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("channel"); got != "ch 1" {
			t.Errorf("channel query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"p1","title":"Evening News","startsAt":"2026-03-11T18:00:00Z","endsAt":"2026-03-11T18:30:00Z"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	batch, err := c.FetchEPG(context.Background(), "ch 1")
	if err != nil {
		t.Fatalf("FetchEPG() = %v", err)
	}
	if len(batch) != 1 || batch[0].Title != "Evening News" {
		t.Fatalf("batch = %+v", batch)
	}
	want := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC)
	if !batch[0].StartsAt.Equal(want) {
		t.Errorf("startsAt = %v", batch[0].StartsAt)
	}
}

func TestFetchEPGUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	if _, err := c.FetchEPG(context.Background(), "ch-1"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestFetchEPGUnconfigured(t *testing.T) {
	c := NewClient("", zerolog.Nop())
	if _, err := c.FetchEPG(context.Background(), "ch-1"); err == nil {
		t.Fatal("expected error without base url")
	}
}

func TestTemplateResolver(t *testing.T) {
	r := &TemplateResolver{Template: "http://example.test/live/{channel}.ts"}
	got, err := r.ResolveStreamURL(context.Background(), "ch/1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://example.test/live/ch%2F1.ts" {
		t.Errorf("resolved = %q", got)
	}

	empty := &TemplateResolver{}
	if _, err := empty.ResolveStreamURL(context.Background(), "ch-1"); err == nil {
		t.Fatal("empty template must error")
	}
}
