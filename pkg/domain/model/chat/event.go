package chat

import "github.com/m-mizutani/kitsune/pkg/domain/types"

type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one element of a streamed turn. A stream is exactly one start
// event, any number of token events and one terminal done or error event.
type Event struct {
	Type EventType `json:"type"`

	// start
	SessionID types.SessionID `json:"session_id,omitempty"`
	AgentName string          `json:"agent_name,omitempty"`
	Version   int             `json:"version,omitempty"`
	ModelName string          `json:"model_name,omitempty"`

	// token
	Content string `json:"content,omitempty"`

	// done
	Usage  *Usage  `json:"usage,omitempty"`
	Totals *Totals `json:"totals,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Terminal reports whether no event follows e
func (e *Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// EventHandler receives stream events. Returning an error aborts the stream,
// which is how a disconnected consumer stops the provider call.
type EventHandler func(*Event) error
