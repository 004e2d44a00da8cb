package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vrsandeep/mailpulse/internal/models"
)

// Errors carried by events.
var (
	ErrMalformedMessage = errors.New("malformed stream message")
	ErrConnectionClosed = errors.New("stream connection closed")
)

// Event is the closed set of things a session can report. Message events
// (CounterUpdate, ItemArrived, Completed, Malformed, ProducerError) come from
// Decode; Opened and Closed are connection lifecycle events.
type Event interface {
	isEvent()
}

// Opened is emitted once the connection is ready, before the start
// directive is written.
type Opened struct{}

// CounterUpdate carries exactly one of Total or Processed.
type CounterUpdate struct {
	Total     *int
	Processed *int
}

// ItemArrived carries one newly processed email.
type ItemArrived struct {
	Item models.Email
}

// Completed is the producer's completion marker. Nothing after it is read.
type Completed struct{}

// Malformed is a message that could not be decoded. It is dropped and the
// connection is kept.
type Malformed struct {
	Raw []byte
	Err error
}

// ProducerError is an error text reported by the producer. It does not end
// the run.
type ProducerError struct {
	Message string
}

// Closed is emitted when the connection ends without a completion marker.
type Closed struct {
	Err error
}

func (Opened) isEvent()        {}
func (CounterUpdate) isEvent() {}
func (ItemArrived) isEvent()   {}
func (Completed) isEvent()     {}
func (Malformed) isEvent()     {}
func (ProducerError) isEvent() {}
func (Closed) isEvent()        {}

// frame mirrors models.ProgressUpdate but leaves the email undecoded, so a
// bad item cannot take the counters of the same frame down with it.
type frame struct {
	models.ProgressUpdate
	Email json.RawMessage `json:"email,omitempty"`
}

// Decode turns one inbound frame into events, in the order they must be
// applied: total, processed, item, producer error, completion. Fields the
// stream does not recognize are ignored. An email that cannot be decoded
// becomes a Malformed event in the item's place; the other fields still apply.
func Decode(data []byte) []Event {
	var msg frame
	if err := json.Unmarshal(data, &msg); err != nil {
		return []Event{malformed(data, err)}
	}
	if msg.TotalEmails != nil && *msg.TotalEmails < 0 {
		return []Event{malformed(data, fmt.Errorf("negative total_emails %d", *msg.TotalEmails))}
	}
	if msg.ProcessedEmails != nil && *msg.ProcessedEmails < 0 {
		return []Event{malformed(data, fmt.Errorf("negative processed_emails %d", *msg.ProcessedEmails))}
	}

	var events []Event
	if msg.TotalEmails != nil {
		events = append(events, CounterUpdate{Total: msg.TotalEmails})
	}
	if msg.ProcessedEmails != nil {
		events = append(events, CounterUpdate{Processed: msg.ProcessedEmails})
	}
	if len(msg.Email) > 0 && string(msg.Email) != "null" {
		var item models.Email
		if err := json.Unmarshal(msg.Email, &item); err != nil {
			events = append(events, malformed(msg.Email, fmt.Errorf("email: %w", err)))
		} else {
			events = append(events, ItemArrived{Item: item})
		}
	}
	if msg.Error != "" {
		events = append(events, ProducerError{Message: msg.Error})
	}
	if msg.Status == models.StatusComplete {
		events = append(events, Completed{})
	}
	return events
}

func malformed(data []byte, err error) Malformed {
	return Malformed{
		Raw: append([]byte(nil), data...),
		Err: fmt.Errorf("%w: %v", ErrMalformedMessage, err),
	}
}
