package realtime

import (
	"context"

	"github.com/tidwall/gjson"

	"tokenmeter/internal/meter"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// Realtime session event types the dispatcher reacts to
const (
	EventSessionCreated          = "session.created"
	EventSessionUpdated          = "session.updated"
	EventResponseDone            = "response.done"
	EventInputTranscriptDone     = "conversation.item.input_audio_transcription.completed"
	EventAudioTranscriptDone     = "response.audio_transcript.done"
	EventOutputAudioTranscriptGA = "response.output_audio_transcript.done"
	EventTextDone                = "response.text.done"
	EventOutputTextGA            = "response.output_text.done"
)

// Handler consumes one raw realtime event
type Handler interface {
	Handle(ctx context.Context, raw []byte) error
}

// Meter is the part of meter.Aggregator the dispatcher drives
type Meter interface {
	SetModel(model string)
	AddUsageFromResponse(u meter.Usage, meta meter.Meta)
	AddInputAudioTranscript(ctx context.Context, text, modelOverride string)
	AddOutputAudioTranscript(ctx context.Context, text, modelOverride string)
	AddOutputText(ctx context.Context, text, modelOverride string)
}

var _ Meter = (*meter.Aggregator)(nil)

// Dispatcher routes realtime session events into a Meter
type Dispatcher struct {
	meter            Meter
	log              *logger.Logger
	countTranscripts bool
}

var _ Handler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. With countTranscripts set, finished
// transcripts and text parts are also counted through the tokenizer; leave it
// off when the session reports structured usage, or the same tokens are
// counted twice.
func NewDispatcher(m Meter, log *logger.Logger, countTranscripts bool) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		meter:            m,
		log:              log.Component("realtime_dispatcher"),
		countTranscripts: countTranscripts,
	}
}

// Handle applies one event. Events of other types are ignored.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return errors.Wrap(errors.ErrInvalidInput, "realtime event is not JSON")
	}
	event := gjson.ParseBytes(raw)
	eventType := event.Get("type")
	if eventType.Type != gjson.String {
		return errors.Wrap(errors.ErrInvalidInput, "realtime event has no type")
	}

	switch eventType.Str {
	case EventSessionCreated, EventSessionUpdated:
		if model := event.Get("session.model").String(); model != "" {
			d.meter.SetModel(model)
		}

	case EventResponseDone:
		u, ok := meter.UsageFromJSON(event.Get("response.usage"))
		if !ok {
			d.log.Debugw("Response finished without usage", "response_id", event.Get("response.id").String())
			return nil
		}
		d.meter.AddUsageFromResponse(u, meter.Meta{Model: event.Get("response.model").String()})

	case EventInputTranscriptDone:
		if d.countTranscripts {
			d.meter.AddInputAudioTranscript(ctx, event.Get("transcript").String(), "")
		}

	case EventAudioTranscriptDone, EventOutputAudioTranscriptGA:
		if d.countTranscripts {
			d.meter.AddOutputAudioTranscript(ctx, event.Get("transcript").String(), "")
		}

	case EventTextDone, EventOutputTextGA:
		if d.countTranscripts {
			d.meter.AddOutputText(ctx, event.Get("text").String(), "")
		}
	}

	return nil
}
