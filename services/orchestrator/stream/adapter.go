// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream turns the orchestrator's internal feed of snapshots and
// increments into the normalized client event stream: buffered synthesis
// tokens held until the quality verdict, deduplicated status updates,
// once-per-stream citation/escalation/disclaimer events, and a guaranteed
// terminal done event.
package stream

import (
	"context"
	"errors"

	"github.com/AleutianAI/AthleteGov/services/orchestrator/datatypes"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/pipeline"
	"github.com/AleutianAI/AthleteGov/services/orchestrator/resilience"
)

// eventBuffer smooths delivery to slow consumers.
const eventBuffer = 32

// Error taxonomy codes carried on the client error event.
const (
	CodeDependencyUnavailable = "dependency_unavailable"
	CodePipelineTimeout       = "pipeline_timeout"
	CodeStreamError           = "stream_error"
)

// statusLabels maps step names to their human-readable progress message.
// Steps without a label never produce a status event.
var statusLabels = map[string]string{
	pipeline.StateClassify:   "Understanding your question...",
	pipeline.StateRetrieve:   "Searching the governance library...",
	pipeline.StateResearch:   "Checking official sources...",
	pipeline.StateSynthesize: "Preparing your answer...",
}

// docsFoundStatus is emitted once, on the first snapshot that carries
// retrieved documents.
const docsFoundStatus = "Reading through the relevant rules and policies..."

// Config holds the adapter's tunables. MaxQualityRetries must match the
// orchestrator's value: it decides whether a failed quality verdict means
// a retry is coming (discard the buffered draft) or the draft ships as-is
// (flush it).
type Config struct {
	MaxQualityRetries int
}

// DefaultConfig mirrors the orchestrator defaults.
func DefaultConfig() Config {
	return Config{MaxQualityRetries: pipeline.DefaultConfig().MaxQualityRetries}
}

// Adapter converts one internal feed into one client event stream.
// Construct once and share; each Adapt call serves one request with its
// own buffering state.
type Adapter struct {
	maxQualityRetries int
}

// NewAdapter creates an Adapter.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{maxQualityRetries: cfg.MaxQualityRetries}
}

// Adapt consumes the feed and returns the client event stream. The
// returned channel always delivers exactly one done event, last, then
// closes — including on upstream failure and on an empty feed.
func (a *Adapter) Adapt(ctx context.Context, feed <-chan datatypes.FeedRecord) <-chan datatypes.StreamEvent {
	out := make(chan datatypes.StreamEvent, eventBuffer)
	go func() {
		defer close(out)
		newConversion(ctx, out, a.maxQualityRetries).run(feed)
	}()
	return out
}

// conversion is the per-request adapter state.
type conversion struct {
	ctx               context.Context
	out               chan<- datatypes.StreamEvent
	maxQualityRetries int

	buffer         []string
	lastStatus     string
	lastAnswerLen  int
	lastQuality    *datatypes.QualityResult
	docsStatusSent bool
	citationsSent  bool
	escalationSent bool
	disclaimerSent bool

	urlSeen  map[string]bool
	urlOrder []string
}

func newConversion(ctx context.Context, out chan<- datatypes.StreamEvent, maxRetries int) *conversion {
	return &conversion{
		ctx:               ctx,
		out:               out,
		maxQualityRetries: maxRetries,
		urlSeen:           make(map[string]bool),
	}
}

func (c *conversion) run(feed <-chan datatypes.FeedRecord) {
	for rec := range feed {
		switch rec.Kind {
		case datatypes.FeedIncrement:
			c.onIncrement(rec)
		case datatypes.FeedSnapshot:
			c.onSnapshot(rec.Snapshot)
		case datatypes.FeedFailure:
			// Partial progress is never lost: flush before the error.
			c.flush()
			c.send(datatypes.NewStreamEvent(datatypes.EventError).WithError(errorCode(rec.Err), rec.Err.Error()))
			c.send(datatypes.NewStreamEvent(datatypes.EventDone))
			return
		}
	}

	// Natural completion: unresolved tokens flush, accumulated source
	// URLs ship, and the stream terminates.
	c.flush()
	if len(c.urlOrder) > 0 {
		c.send(datatypes.NewStreamEvent(datatypes.EventDiscoveredURLs).WithURLs(c.urlOrder))
	}
	c.send(datatypes.NewStreamEvent(datatypes.EventDone))
}

// onIncrement buffers synthesizer tokens and turns step markers into
// deduplicated status events.
func (c *conversion) onIncrement(rec datatypes.FeedRecord) {
	if rec.Step == pipeline.StateSynthesize && rec.Text != "" {
		c.buffer = append(c.buffer, rec.Text)
		return
	}

	label, ok := statusLabels[rec.Step]
	if !ok || label == c.lastStatus {
		return
	}
	c.lastStatus = label
	c.send(datatypes.NewStreamEvent(datatypes.EventStatus).WithMessage(label))
}

func (c *conversion) onSnapshot(st *datatypes.PipelineState) {
	if st == nil {
		return
	}

	if !c.docsStatusSent && len(st.RetrievedDocs) > 0 {
		c.docsStatusSent = true
		c.lastStatus = docsFoundStatus
		c.send(datatypes.NewStreamEvent(datatypes.EventStatus).WithMessage(docsFoundStatus))
	}

	// Snapshots are cumulative and redeliver the quality field, so only a
	// pointer change marks a genuinely new verdict.
	if st.Quality != nil && st.Quality != c.lastQuality {
		c.lastQuality = st.Quality
		switch {
		case st.Quality.Passed:
			c.flush()
		case st.QualityRetries < c.maxQualityRetries:
			// A retry is coming: the rejected draft is discarded and its
			// text must never reach the client, not even via the answer
			// field of later snapshots.
			c.clear()
		default:
			c.flush()
		}
		c.lastAnswerLen = len(st.Answer)
	}

	// Direct-answer steps set the answer without streaming tokens; emit
	// the unseen suffix. While tokens are buffered the answer field is a
	// duplicate of the buffer and must not be emitted.
	if len(c.buffer) == 0 && len(st.Answer) > c.lastAnswerLen {
		c.send(datatypes.NewStreamEvent(datatypes.EventTextDelta).WithContent(st.Answer[c.lastAnswerLen:]))
		c.lastAnswerLen = len(st.Answer)
	}

	if !c.citationsSent && len(st.Citations) > 0 {
		c.citationsSent = true
		c.send(datatypes.NewStreamEvent(datatypes.EventCitations).WithCitations(st.Citations))
	}
	if !c.escalationSent && st.Escalation != nil {
		c.escalationSent = true
		c.send(datatypes.NewStreamEvent(datatypes.EventEscalation).WithEscalation(st.Escalation))
	}
	if !c.disclaimerSent && st.Disclaimer != "" {
		c.disclaimerSent = true
		c.send(datatypes.NewStreamEvent(datatypes.EventDisclaimer).WithDisclaimer(st.Disclaimer))
	}

	for _, u := range st.SourceURLs {
		if u == "" || c.urlSeen[u] {
			continue
		}
		c.urlSeen[u] = true
		c.urlOrder = append(c.urlOrder, u)
	}
}

// flush emits every buffered fragment in order as text-delta events and
// clears the buffer.
func (c *conversion) flush() {
	for _, fragment := range c.buffer {
		c.send(datatypes.NewStreamEvent(datatypes.EventTextDelta).WithContent(fragment))
	}
	c.clear()
}

// clear drops the buffer without emitting and re-arms status labels so a
// retry pass can announce itself again.
func (c *conversion) clear() {
	c.buffer = nil
	c.lastStatus = ""
}

func (c *conversion) send(ev datatypes.StreamEvent) {
	select {
	case c.out <- ev:
	case <-c.ctx.Done():
	}
}

// errorCode maps an upstream failure to the client error taxonomy.
// Application errors carry their code verbatim.
func errorCode(err error) string {
	if err == nil {
		return CodeStreamError
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return CodeDependencyUnavailable
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return CodePipelineTimeout
	}
	var appErr *datatypes.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeStreamError
}
