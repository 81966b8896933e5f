// Package stream decodes raw provider event payloads into a typed delta
// sequence. One decoder instance covers one turn.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

const doneMarker = "[DONE]"

// Event is one decoded element of the delta stream.
type Event interface {
	isEvent()
}

// ReasoningDelta carries a non-empty fragment of reasoning-channel text.
type ReasoningDelta struct {
	Text string
}

// ContentDelta carries a non-empty fragment of answer-channel text.
type ContentDelta struct {
	Text string
}

// Finished marks the end of the turn. Emitted at most once per decoder.
type Finished struct{}

// Failed marks the turn as failed. Detail is the provider error payload,
// serialized when the provider sent a structured error.
type Failed struct {
	Detail string
}

func (ReasoningDelta) isEvent() {}
func (ContentDelta) isEvent()   {}
func (Finished) isEvent()       {}
func (Failed) isEvent()         {}

// Decoder turns raw SSE data payloads into Events. It tracks termination so
// that a sentinel marker and an explicit finish_reason arriving for the same
// turn produce exactly one terminal event.
type Decoder struct {
	log        zerolog.Logger
	terminated bool
}

func NewDecoder(log zerolog.Logger) *Decoder {
	return &Decoder{log: log.With().Str("component", "stream-decoder").Logger()}
}

// Terminated reports whether a terminal event has already been produced.
func (d *Decoder) Terminated() bool {
	return d.terminated
}

type chunkError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

type streamChunk struct {
	Error   *chunkError `json:"error,omitempty"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Decode processes one raw payload (the SSE data field, prefix already
// stripped) and returns the events it yields. Malformed JSON is dropped with
// a debug log, never surfaced as a failure. After a terminal event every
// further payload decodes to nothing.
func (d *Decoder) Decode(payload string) []Event {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}

	if payload == doneMarker {
		return d.terminate(Finished{})
	}

	if d.terminated {
		return nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		d.log.Debug().Err(err).Str("payload", payload).Msg("dropping malformed stream chunk")
		return nil
	}

	if chunk.Error != nil {
		detail, err := json.Marshal(chunk.Error)
		if err != nil {
			return d.terminate(Failed{Detail: payload})
		}
		return d.terminate(Failed{Detail: string(detail)})
	}

	var events []Event
	finished := false
	for _, choice := range chunk.Choices {
		if choice.Delta.ReasoningContent != "" {
			events = append(events, ReasoningDelta{Text: choice.Delta.ReasoningContent})
		}
		if choice.Delta.Content != "" {
			events = append(events, ContentDelta{Text: choice.Delta.Content})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finished = true
		}
	}

	if finished {
		events = append(events, d.terminate(Finished{})...)
	}

	return events
}

// Fail injects a transport-level failure into the stream, subject to the same
// idempotent-termination rule as decoded terminal events.
func (d *Decoder) Fail(detail string) []Event {
	return d.terminate(Failed{Detail: detail})
}

func (d *Decoder) terminate(ev Event) []Event {
	if d.terminated {
		return nil
	}
	d.terminated = true
	return []Event{ev}
}
