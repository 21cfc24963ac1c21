package fanout

import (
	"github.com/harun/agentrelay/pkg/session"
	"github.com/harun/agentrelay/pkg/store"
)

// EventType tags the variant of an Event on the wire
type EventType string

const (
	EventHistory        EventType = "history"
	EventAssistantBlock EventType = "assistant_block"
	EventToolResult     EventType = "tool_result"
	EventAPIExchange    EventType = "api_exchange"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one frame delivered to subscribers. Every variant serializes with
// a "type" field carrying its Kind.
type Event interface {
	Kind() EventType
}

// HistoryEvent is the backlog sent once when a subscriber attaches
type HistoryEvent struct {
	Type     EventType       `json:"type"`
	Messages []store.Message `json:"messages"`
}

func (HistoryEvent) Kind() EventType { return EventHistory }

// AssistantBlockEvent carries one content block produced by the model
type AssistantBlockEvent struct {
	Type  EventType            `json:"type"`
	Block session.ContentBlock `json:"block"`
}

func (AssistantBlockEvent) Kind() EventType { return EventAssistantBlock }

// ToolResultEvent carries the outcome of one tool invocation. Absent fields
// are sent as null.
type ToolResultEvent struct {
	Type        EventType `json:"type"`
	ToolUseID   string    `json:"tool_use_id"`
	Output      *string   `json:"output"`
	Error       *string   `json:"error"`
	Base64Image *string   `json:"base64_image"`
}

func (ToolResultEvent) Kind() EventType { return EventToolResult }

// APIExchangeEvent reports one provider HTTP exchange
type APIExchangeEvent struct {
	Type   EventType `json:"type"`
	Status *int      `json:"status"`
	Error  *string   `json:"error"`
}

func (APIExchangeEvent) Kind() EventType { return EventAPIExchange }

// DoneEvent marks a run that completed normally
type DoneEvent struct {
	Type EventType `json:"type"`
}

func (DoneEvent) Kind() EventType { return EventDone }

// ErrorEvent marks a failed run, or an unknown session on connect
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (ErrorEvent) Kind() EventType { return EventError }

// History builds the backlog event
func History(messages []store.Message) HistoryEvent {
	if messages == nil {
		messages = []store.Message{}
	}
	return HistoryEvent{Type: EventHistory, Messages: messages}
}

// AssistantBlock builds an assistant_block event
func AssistantBlock(block session.ContentBlock) AssistantBlockEvent {
	return AssistantBlockEvent{Type: EventAssistantBlock, Block: block}
}

// ToolResult builds a tool_result event. Empty strings are sent as null.
func ToolResult(toolUseID, output, errMsg, base64Image string) ToolResultEvent {
	return ToolResultEvent{
		Type:        EventToolResult,
		ToolUseID:   toolUseID,
		Output:      optional(output),
		Error:       optional(errMsg),
		Base64Image: optional(base64Image),
	}
}

// APIExchange builds an api_exchange event. A zero status means no response
// was received.
func APIExchange(status int, err error) APIExchangeEvent {
	ev := APIExchangeEvent{Type: EventAPIExchange}
	if status != 0 {
		ev.Status = &status
	}
	if err != nil {
		msg := err.Error()
		ev.Error = &msg
	}
	return ev
}

// Done builds a done event
func Done() DoneEvent {
	return DoneEvent{Type: EventDone}
}

// Error builds an error event
func Error(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
