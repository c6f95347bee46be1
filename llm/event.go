package llm

import "fmt"

// EventKind tags an Event.
type EventKind int

const (
	EventText   EventKind = iota + 1 // prose fragment
	EventStats                       // final statistics of a call
	EventNotice                      // waiting or degradation notice for the user
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventStats:
		return "stats"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*k = EventText
	case "stats":
		*k = EventStats
	case "notice":
		*k = EventNotice
	default:
		return fmt.Errorf("unknown event kind %q", b)
	}
	return nil
}

// Event is one item of a streaming result. Exactly one payload field is set,
// selected by Kind.
type Event struct {
	Kind   EventKind   `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Stats  *Statistics `json:"stats,omitempty"`
	Notice string      `json:"notice,omitempty"`
}

// TextEvent builds a text event.
func TextEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

// StatsEvent builds a statistics event.
func StatsEvent(s Statistics) Event {
	return Event{Kind: EventStats, Stats: &s}
}

// NoticeEvent builds a notice event.
func NoticeEvent(msg string) Event {
	return Event{Kind: EventNotice, Notice: msg}
}
