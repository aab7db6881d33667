package log

import (
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// FileExtension is the conventional extension for protocol log files.
const FileExtension = ".plog"

// Events are written in canonical key order with nanosecond timestamps so
// two captures of the same session compare byte for byte.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	m, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic("log: cbor encode mode: " + err.Error())
	}
	return m
}

func mustDecMode() cbor.DecMode {
	// Older captures may repeat keys or use indefinite lengths; accept both.
	m, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic("log: cbor decode mode: " + err.Error())
	}
	return m
}

// EncodeEvent encodes an Event to CBOR bytes.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent decodes CBOR bytes into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := decMode.Unmarshal(data, &event)
	return event, err
}

// NewEncoder returns an encoder that appends events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder reading a stream of events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// ReadAll decodes every event in r that matches filter. Events decoded
// before an error are returned with it.
func ReadAll(r io.Reader, filter Filter) ([]Event, error) {
	s := stream{dec: NewDecoder(r), filter: filter}
	var events []Event
	for {
		event, err := s.next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// stream yields the events of a decoder that pass a filter.
type stream struct {
	dec    *cbor.Decoder
	filter Filter
}

func (s *stream) next() (Event, error) {
	for {
		var event Event
		if err := s.dec.Decode(&event); err != nil {
			return Event{}, err
		}
		if s.filter.matches(event) {
			return event, nil
		}
	}
}
