package models

import (
	"time"
)

// Kind identifies the shape of an envelope on the wire.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

const (
	// SystemCorrelationID is the reserved correlation id used by the worker
	// to announce that it finished its own initialization.
	SystemCorrelationID = "system"

	// StatusReady is the value of data.status in the readiness envelope.
	StatusReady = "ready"
)

// Envelope is one unit of communication exchanged with the worker. It is
// implemented by Request, Response and Event.
type Envelope interface {
	// Kind returns the shape of the envelope
	Kind() Kind
}

// Request is sent from the host to the worker.
type Request struct {
	// CorrelationID identifies the request. The worker echoes it in the
	// matching response.
	CorrelationID string `json:"correlation_id"`

	// Command is the dot-separated command name, e.g. "sponsors.get_all".
	Command string `json:"command"`

	// Data is the opaque command payload
	Data map[string]any `json:"data"`
}

func (Request) Kind() Kind { return KindRequest }

// Response is sent from the worker to the host in reply to a Request.
type Response struct {
	CorrelationID string         `json:"correlation_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
}

func (Response) Kind() Kind { return KindResponse }

// IsReady reports whether the response is the worker's readiness handshake.
func (r Response) IsReady() bool {
	if r.CorrelationID != SystemCorrelationID || !r.Success {
		return false
	}

	status, _ := r.Data["status"].(string)
	return status == StatusReady
}

// Event is an unsolicited notification sent from the worker to the host.
type Event struct {
	// Type is always "event" on the wire
	Type string `json:"type"`

	// Name is the event name subscribers register for
	Name string `json:"event"`

	// CorrelationID optionally ties the event to a request that caused it.
	// It is informational only and never used for routing.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Data is the opaque event payload
	Data map[string]any `json:"data"`

	// Timestamp is the ISO-8601 emission time as sent by the worker
	Timestamp string `json:"timestamp,omitempty"`
}

func (Event) Kind() Kind { return KindEvent }

// timestampLayouts are the ISO-8601 variants workers are known to emit.
// Python's datetime.isoformat() omits the zone for naive datetimes.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// EmittedAt parses the event timestamp. Zone-less timestamps are read as UTC.
func (e Event) EmittedAt() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// NewEvent creates an event envelope stamped with the given time.
func NewEvent(name string, data map[string]any, at time.Time) Event {
	return Event{
		Type:      string(KindEvent),
		Name:      name,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// NewReadyResponse creates the readiness handshake envelope.
func NewReadyResponse(info map[string]any) Response {
	data := make(map[string]any, len(info)+1)
	for k, v := range info {
		data[k] = v
	}
	data["status"] = StatusReady

	return Response{
		CorrelationID: SystemCorrelationID,
		Success:       true,
		Data:          data,
	}
}
