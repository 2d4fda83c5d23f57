package eventbus

import "time"

// Topic represents an event topic.
type Topic string

const (
	TopicInboundMessage  Topic = "inbound_message"
	TopicOutboundMessage Topic = "outbound_message"
	TopicTurnAppended    Topic = "turn_appended"
	TopicHistoryEvicted  Topic = "history_evicted"
	TopicIndexIngested   Topic = "index_ingested"
	TopicHistoryReset    Topic = "history_reset"
	TopicCompletion      Topic = "completion"
	TopicError           Topic = "error"
)

// Event is a message passed through the event bus.
type Event struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes an event.
type Handler func(Event)

// TurnAppended is published after a turn lands in a conversation window.
type TurnAppended struct {
	Key    string
	Role   string
	Length int
}

// HistoryEvicted is published after an overflow cleared the window.
type HistoryEvicted struct {
	Key     string
	Policy  string
	Evicted int
}

// IndexIngested is published after new transcript bytes were indexed.
type IndexIngested struct {
	Key    string
	Chunks int
	Offset int64
}

// HistoryReset is published after a conversation was cleared.
type HistoryReset struct {
	Key string
}

// Completion is published after a completion call returned.
type Completion struct {
	Key          string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Failure is published when a component hits a non-fatal error.
type Failure struct {
	Key       string
	Component string
	Err       error
}
