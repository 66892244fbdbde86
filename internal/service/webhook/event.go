package webhook

import (
	"fmt"
	"strings"

	go_json "github.com/goccy/go-json"
)

// Event is a verified notification from the payment platform. The only way
// to obtain one is through successful signature verification, so its fields
// are unexported.
type Event struct {
	id        string
	typ       string
	createdAt int64
	payload   map[string]any
}

func (e Event) ID() string       { return e.id }
func (e Event) Type() string     { return e.typ }
func (e Event) CreatedAt() int64 { return e.createdAt }
func (e Event) IsZero() bool     { return e.id == "" }

// Payload returns the full decoded body. Callers must not mutate it.
func (e Event) Payload() map[string]any { return e.payload }

// Namespace is the part of the type before the last dot, e.g. "payment_intent"
// for "payment_intent.succeeded".
func (e Event) Namespace() string {
	if idx := strings.LastIndex(e.typ, "."); idx > 0 {
		return e.typ[:idx]
	}
	return e.typ
}

// Action is the part of the type after the last dot.
func (e Event) Action() string {
	if idx := strings.LastIndex(e.typ, "."); idx >= 0 {
		return e.typ[idx+1:]
	}
	return ""
}

// Summary is the audit record stored alongside the processed event id.
func (e Event) Summary() map[string]any {
	return map[string]any{
		"id":      e.id,
		"type":    e.typ,
		"created": e.createdAt,
	}
}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
}

func parseEvent(payload []byte) (Event, error) {
	var raw rawEvent
	if err := go_json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to parse event: %w", err)
	}

	var body map[string]any
	if err := go_json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("failed to parse event body: %w", err)
	}

	if strings.TrimSpace(raw.ID) == "" {
		return Event{}, fmt.Errorf("event id is missing")
	}

	return Event{
		id:        raw.ID,
		typ:       raw.Type,
		createdAt: raw.Created,
		payload:   body,
	}, nil
}
