// Package stream implements the telephony websocket transport: the event
// protocol, the per-call dispatcher loop and the paced streaming responder.
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/voxline-ai/voxline/pkg/core/audio"
	"github.com/voxline-ai/voxline/pkg/core/call"
)

// Event names on the wire.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
	EventMark      = "mark"
	EventStop      = "stop"
)

// DecodeError marks a frame that could not be parsed or failed validation.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// MediaFormat is the provider-declared audio shape in the start event.
type MediaFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// StartPayload carries call identity and lead context.
type StartPayload struct {
	StreamSID        string            `json:"stream_sid"`
	CallSID          string            `json:"call_sid"`
	AccountSID       string            `json:"account_sid,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
	MediaFormat      MediaFormat       `json:"media_format,omitempty"`
}

// MediaPayload carries one base64 audio frame.
type MediaPayload struct {
	Chunk     int    `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// DTMFPayload carries one key press.
type DTMFPayload struct {
	Digit string `json:"digit"`
}

// StopPayload carries the call-end notification.
type StopPayload struct {
	CallSID string `json:"call_sid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Event is one inbound transport frame.
type Event struct {
	Event          string        `json:"event"`
	SequenceNumber int64         `json:"sequence_number,omitempty"`
	StreamSID      string        `json:"stream_sid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// DecodeEvent parses and validates one inbound frame.
func DecodeEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	switch ev.Event {
	case EventConnected, EventClear, EventMark, EventStop:
	case EventStart:
		if ev.Start == nil {
			return nil, badFrame("start event missing payload", "start")
		}
	case EventMedia:
		if ev.Media == nil || ev.Media.Payload == "" {
			return nil, badFrame("media event missing payload", "media.payload")
		}
	case EventDTMF:
		if ev.DTMF == nil || ev.DTMF.Digit == "" {
			return nil, badFrame("dtmf event missing digit", "dtmf.digit")
		}
	case "":
		return nil, badFrame("missing event name", "event")
	default:
		return nil, badFrame("unknown event "+strconv.Quote(ev.Event), "event")
	}
	return &ev, nil
}

// outboundMedia is the frame shape we send back.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"stream_sid,omitempty"`
	Media     MediaPayload `json:"media"`
}

// EncodeMediaEvent wraps raw PCM into an outbound media frame.
func EncodeMediaEvent(streamSID string, pcm []byte) ([]byte, error) {
	return json.Marshal(outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: audio.EncodePayload(pcm)},
	})
}

// LeadFromParameters builds the lead context from the start event's custom
// parameters. Missing or malformed values degrade to zero values.
func LeadFromParameters(params map[string]string, from string) call.LeadContext {
	lead := call.LeadContext{
		Name:         params["name"],
		Phone:        params["phone"],
		PropertyType: params["property_type"],
		Location:     params["location"],
		Source:       params["source"],
	}
	if lead.Phone == "" {
		lead.Phone = from
	}
	if raw := params["lead_id"]; raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			lead.LeadID = id
		}
	}
	if raw := params["budget"]; raw != "" {
		if budget, err := strconv.ParseFloat(raw, 64); err == nil {
			lead.Budget = budget
		}
	}
	return lead
}
