// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Internal Event Feed
// =============================================================================

// FeedKind discriminates records on the orchestrator's internal feed.
type FeedKind string

const (
	// FeedSnapshot carries cumulative pipeline state as of one step boundary.
	FeedSnapshot FeedKind = "snapshot"
	// FeedIncrement carries one text token plus the originating step's name.
	FeedIncrement FeedKind = "increment"
	// FeedFailure terminates the feed with an error from the synthesis path.
	FeedFailure FeedKind = "failure"
)

// FeedRecord is one record on the internal dual-channel feed the stream
// adapter consumes. Exactly one of the payload fields is set, selected by
// Kind.
type FeedRecord struct {
	Kind     FeedKind
	Snapshot *PipelineState
	Text     string
	Step     string
	Err      error
}

// SnapshotRecord wraps cumulative state into a feed record.
func SnapshotRecord(st *PipelineState) FeedRecord {
	return FeedRecord{Kind: FeedSnapshot, Snapshot: st}
}

// IncrementRecord wraps one token from the named step into a feed record.
func IncrementRecord(text, step string) FeedRecord {
	return FeedRecord{Kind: FeedIncrement, Text: text, Step: step}
}

// FailureRecord wraps a terminal pipeline error into a feed record.
func FailureRecord(err error) FeedRecord {
	return FeedRecord{Kind: FeedFailure, Err: err}
}

// =============================================================================
// Client Stream Events
// =============================================================================

// Stream event types. Exactly one EventDone terminates every stream, last.
const (
	EventTextDelta      = "text-delta"
	EventCitations      = "citations"
	EventEscalation     = "escalation"
	EventDisclaimer     = "disclaimer"
	EventStatus         = "status"
	EventDiscoveredURLs = "discovered-urls"
	EventError          = "error"
	EventDone           = "done"
)

// StreamEvent is the normalized client-facing event produced by the stream
// adapter and written to the wire by channel adapters.
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`

	Content    string      `json:"content,omitempty"`
	Message    string      `json:"message,omitempty"`
	Citations  []Citation  `json:"citations,omitempty"`
	Escalation *Escalation `json:"escalation,omitempty"`
	Disclaimer string      `json:"disclaimer,omitempty"`
	URLs       []string    `json:"urls,omitempty"`
	Code       string      `json:"code,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// NewStreamEvent creates an event of the given type with a generated id
// and millisecond timestamp.
func NewStreamEvent(eventType string) StreamEvent {
	return StreamEvent{
		Id:        uuid.NewString(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// WithContent sets the text payload (text-delta events).
func (e StreamEvent) WithContent(content string) StreamEvent {
	e.Content = content
	return e
}

// WithMessage sets the human-readable status message.
func (e StreamEvent) WithMessage(message string) StreamEvent {
	e.Message = message
	return e
}

// WithCitations sets the citation list.
func (e StreamEvent) WithCitations(citations []Citation) StreamEvent {
	e.Citations = citations
	return e
}

// WithEscalation sets the escalation payload.
func (e StreamEvent) WithEscalation(esc *Escalation) StreamEvent {
	e.Escalation = esc
	return e
}

// WithDisclaimer sets the disclaimer text.
func (e StreamEvent) WithDisclaimer(text string) StreamEvent {
	e.Disclaimer = text
	return e
}

// WithURLs sets the discovered source URLs.
func (e StreamEvent) WithURLs(urls []string) StreamEvent {
	e.URLs = urls
	return e
}

// WithError sets the taxonomy code and error message.
func (e StreamEvent) WithError(code, message string) StreamEvent {
	e.Code = code
	e.Error = message
	return e
}

// =============================================================================
// Application Errors
// =============================================================================

// AppError carries an explicit application code that is passed through
// verbatim to the stream's error event.
type AppError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return e.Code + ": " + e.Message
}

// NewAppError creates an AppError with the given code and message.
func NewAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}
