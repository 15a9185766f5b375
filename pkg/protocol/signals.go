// Package protocol describes the external-media control protocol: text
// control signals interleaved with opaque binary audio on one connection.
package protocol

import "strings"

// Signal is a recognized control signal, or SignalUnknown
type Signal int

const (
	SignalUnknown Signal = iota
	SignalMediaStart
	SignalMediaXON
	SignalMediaXOFF
	SignalAnswer
	SignalStartMediaBuffering
	SignalStopMediaBuffering
)

// Wire names. Case-sensitive, no trailing newline required.
const (
	MediaStart          = "MEDIA_START"
	MediaXON            = "MEDIA_XON"
	MediaXOFF           = "MEDIA_XOFF"
	Answer              = "ANSWER"
	StartMediaBuffering = "START_MEDIA_BUFFERING"
	StopMediaBuffering  = "STOP_MEDIA_BUFFERING"
)

var signalNames = map[Signal]string{
	SignalMediaStart:          MediaStart,
	SignalMediaXON:            MediaXON,
	SignalMediaXOFF:           MediaXOFF,
	SignalAnswer:              Answer,
	SignalStartMediaBuffering: StartMediaBuffering,
	SignalStopMediaBuffering:  StopMediaBuffering,
}

// String returns the wire name, "UNKNOWN" for SignalUnknown
func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ControlSignal is a parsed text payload. Raw keeps the original text so
// that trailing metadata (MEDIA_START;callid=1) and unknown payloads can be
// logged verbatim.
type ControlSignal struct {
	Signal Signal
	Raw    string
}

// Known reports whether the payload matched a recognized signal
func (c ControlSignal) Known() bool {
	return c.Signal != SignalUnknown
}

// Params returns what follows the signal name for prefix-matched signals,
// e.g. ";callid=1" for "MEDIA_START;callid=1".
func (c ControlSignal) Params() string {
	if c.Signal != SignalMediaStart {
		return ""
	}
	return strings.TrimPrefix(c.Raw, MediaStart)
}

// ParseControl classifies a text payload. MEDIA_START is matched by prefix so
// the peer may append session metadata; every other signal must match
// exactly, ignoring surrounding whitespace.
func ParseControl(text string) ControlSignal {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, MediaStart) {
		return ControlSignal{Signal: SignalMediaStart, Raw: trimmed}
	}
	switch trimmed {
	case MediaXON:
		return ControlSignal{Signal: SignalMediaXON, Raw: trimmed}
	case MediaXOFF:
		return ControlSignal{Signal: SignalMediaXOFF, Raw: trimmed}
	case Answer:
		return ControlSignal{Signal: SignalAnswer, Raw: trimmed}
	case StartMediaBuffering:
		return ControlSignal{Signal: SignalStartMediaBuffering, Raw: trimmed}
	case StopMediaBuffering:
		return ControlSignal{Signal: SignalStopMediaBuffering, Raw: trimmed}
	}
	return ControlSignal{Signal: SignalUnknown, Raw: text}
}
