// SPDX-License-Identifier: MIT

package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/ottrec/ottrec/internal/events"
	"github.com/ottrec/ottrec/internal/metrics"
	"github.com/ottrec/ottrec/internal/recording"
	"github.com/ottrec/ottrec/internal/store"
	"github.com/ottrec/ottrec/internal/telemetry"
)

// EPGProvider is the external guide collaborator. The returned batch is
// finite and not restartable; the engine decides refresh cadence.
type EPGProvider interface {
	FetchEPG(ctx context.Context, channelID string) ([]Programme, error)
}

var ErrEngineRuleNotFound = errors.New("series rule not found")

// Engine drives the matcher for every enabled rule: it fetches fresh EPG
// data, materializes accepted candidates into scheduled recordings, and
// updates each rule's dedup set and projection. Failures for one rule never
// abort the others.
type Engine struct {
	store    *store.Store
	provider EPGProvider
	matcher  *Matcher
	bus      *events.Bus
	logger   zerolog.Logger

	// OutputDir is where derived recording file paths point.
	OutputDir string
	// FetchTimeout bounds each per-rule EPG fetch; a timeout aborts that
	// rule's cycle only.
	FetchTimeout time.Duration

	group singleflight.Group
}

// NewEngine constructs the series engine.
func NewEngine(st *store.Store, provider EPGProvider, matcher *Matcher, bus *events.Bus, outputDir string, logger zerolog.Logger) *Engine {
	return &Engine{
		store:        st,
		provider:     provider,
		matcher:      matcher,
		bus:          bus,
		logger:       logger,
		OutputDir:    outputDir,
		FetchTimeout: 30 * time.Second,
	}
}

// RuleRunReport summarizes one rule's match cycle.
type RuleRunReport struct {
	RuleID     string    `json:"ruleId"`
	Trigger    string    `json:"trigger"` // "auto" | "manual"
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"` // "success" | "error"
	Scanned    int       `json:"scanned"`
	Matched    int       `json:"matched"`
	Created    int       `json:"created"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// RunOnce executes a single pass over all enabled rules, or a single rule
// when ruleID is non-empty. Concurrent invocations with the same scope are
// collapsed via singleflight.
func (e *Engine) RunOnce(ctx context.Context, trigger, ruleID string) ([]RuleRunReport, error) {
	key := "run_all"
	if ruleID != "" {
		key = "run_" + ruleID
	}
	result, err, _ := e.group.Do(key, func() (any, error) {
		return e.run(ctx, trigger, ruleID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]RuleRunReport), nil
}

func (e *Engine) run(ctx context.Context, trigger, ruleID string) ([]RuleRunReport, error) {
	var rules []recording.SeriesRule
	if ruleID != "" {
		rule, ok := e.store.Rule(ruleID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEngineRuleNotFound, ruleID)
		}
		rules = append(rules, rule)
	} else {
		for _, rule := range e.store.Rules() {
			if rule.Enabled {
				rules = append(rules, rule)
			}
		}
	}

	reports := make([]RuleRunReport, 0, len(rules))
	for _, rule := range rules {
		report := e.runRule(ctx, trigger, rule)
		reports = append(reports, report)
		if ctx.Err() != nil {
			break
		}
	}
	return reports, nil
}

// runRule is fully isolated: any error is captured in the report and logged,
// never propagated to sibling rules.
func (e *Engine) runRule(ctx context.Context, trigger string, rule recording.SeriesRule) RuleRunReport {
	report := RuleRunReport{
		RuleID:    rule.ID,
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    "success",
	}
	ctx, span := telemetry.StartSpan(ctx, "series.rule_run")
	span.SetAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("rule.channel", rule.ChannelID),
		attribute.String("trigger", trigger),
	)
	defer func() {
		span.SetAttributes(attribute.Int("created", report.Created))
		span.End()
		report.FinishedAt = time.Now()
	}()

	e.bus.Publish(events.EventEPGRefreshNeeded, events.Payload{
		"rule_id": rule.ID,
		"channel": rule.ChannelID,
	})

	fetchCtx := ctx
	if e.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.FetchTimeout)
		defer cancel()
	}

	fetchStart := time.Now()
	batch, err := e.provider.FetchEPG(fetchCtx, rule.ChannelID)
	metrics.ObserveEPGFetch(time.Since(fetchStart).Seconds())
	if err != nil {
		report.Status = "error"
		report.Error = err.Error()
		telemetry.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.IncSeriesRun("timeout")
		} else {
			metrics.IncSeriesRun("error")
		}
		e.logger.Warn().Err(err).Str("rule_id", rule.ID).Str("channel", rule.ChannelID).
			Msg("epg fetch failed, rule skipped until next refresh")
		return report
	}

	now := time.Now().UTC()
	children := e.store.ChildrenOf(rule.ID)
	decisions := e.matcher.Evaluate(rule, children, batch, now)

	report.Scanned = len(decisions)
	for _, d := range decisions {
		if !d.Accepted {
			report.Skipped++
			continue
		}
		report.Matched++

		rec := e.materialize(rule, d.Programme)
		if err := e.store.AddRecording(rec); err != nil {
			// In-memory state stays authoritative; the write is retried on
			// the next mutation.
			e.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("persist new episode")
		}
		metrics.IncSeriesMatch(d.Tier)
		report.Created++

		rule.MarkRecorded(d.Programme.Title)
		rule.LastRecordedAt = now
		children = append(children, rec)

		e.logger.Info().
			Str("rule_id", rule.ID).
			Str("title", d.Programme.Title).
			Str("tier", d.Tier).
			Time("starts_at", d.Programme.StartsAt).
			Msg("scheduled new episode")
	}

	rule.LastCheckedAt = now
	Project(&rule, children, now)
	if err := e.store.UpdateRule(rule); err != nil {
		e.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("persist rule state")
	}

	metrics.IncSeriesRun("success")
	return report
}

func (e *Engine) materialize(rule recording.SeriesRule, prog Programme) recording.Recording {
	rec := recording.Recording{
		ID:                uuid.NewString(),
		Title:             prog.Title,
		Description:       prog.Description,
		ChannelID:         rule.ChannelID,
		ChannelName:       rule.ChannelName,
		StreamURL:         rule.StreamURL,
		StartsAt:          prog.StartsAt,
		EndsAt:            prog.EndsAt,
		PreBufferMinutes:  rule.PreBufferMinutes,
		PostBufferMinutes: rule.PostBufferMinutes,
		IsEPGBased:        true,
		EPGProgramID:      prog.ID,
		SeriesRuleID:      rule.ID,
		Status:            recording.StatusScheduled,
		CreatedAt:         time.Now().UTC(),
	}
	rec.OutputPath = recording.DeriveOutputPath(e.OutputDir, rule.ChannelName, prog.Title, prog.StartsAt)
	return rec
}
