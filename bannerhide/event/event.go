// Package event defines what bannerhide reports about each page it
// handles. Sinks receive these values; consumers import this package to
// decode them.
package event

import "encoding/json"

// Type classifies an Event.
type Type string

const (
	TypeSuppressed Type = "suppressed" // banner found and hidden
	TypeTimeout    Type = "timeout"    // page timeout reached while watching
	TypeAbsent     Type = "absent"     // offline check found no banner
	TypeCaptcha    Type = "captcha"    // a response came back with status 511
	TypeFailed     Type = "failed"     // the page could not be opened or watched
)

// Event is one observation about one page.
type Event struct {
	ID        string `json:"id"` // UUIDv7
	Type      Type   `json:"type"`
	PageID    string `json:"page_id"`
	PageURL   string `json:"page_url"`
	XPath     string `json:"xpath,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"` // start of watch to suppression
	Detail    string `json:"detail,omitempty"`     // error text or captcha request URL
	Timestamp int64  `json:"timestamp"`            // epoch milliseconds
}

// Marshal encodes an Event as JSON.
func Marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an Event from JSON.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
