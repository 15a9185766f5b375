package protocol

import "fmt"

// Kind tags a Message
type Kind int

const (
	KindUnknown Kind = iota
	KindBinary
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Message is one transport message: Binary(Data) or Text(Text).
type Message struct {
	Kind Kind
	Data []byte
	Text string
}

// Binary wraps an audio payload
func Binary(data []byte) Message {
	return Message{Kind: KindBinary, Data: data}
}

// Text wraps a text payload
func Text(text string) Message {
	return Message{Kind: KindText, Text: text}
}

// SignalMessage wraps a control signal as a text message
func SignalMessage(s Signal) Message {
	return Text(s.String())
}

// Len returns the payload size in bytes
func (m Message) Len() int {
	if m.Kind == KindText {
		return len(m.Text)
	}
	return len(m.Data)
}

func (m Message) String() string {
	switch m.Kind {
	case KindText:
		return fmt.Sprintf("text(%q)", m.Text)
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(m.Data))
	default:
		return fmt.Sprintf("unknown(%d bytes)", len(m.Data))
	}
}
