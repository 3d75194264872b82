package telephony

// Media stream socket events. Twilio wraps every message in a JSON envelope
// whose "event" field discriminates which meta struct is populated.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventDTMF      = "dtmf"
	eventClear     = "clear"
)

// streamEvent is the inbound envelope read off the media stream websocket.
type streamEvent struct {
	Event          string     `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSID      string     `json:"streamSid,omitempty"`
	Start          *startMeta `json:"start,omitempty"`
	Media          *mediaMeta `json:"media,omitempty"`
	Mark           *markMeta  `json:"mark,omitempty"`
	Stop           *stopMeta  `json:"stop,omitempty"`
	DTMF           *dtmfMeta  `json:"dtmf,omitempty"`
}

// startMeta arrives once per stream, before any media, and identifies the
// call the stream belongs to. CustomParameters carries the <Parameter>
// elements from the answering TwiML.
type startMeta struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// mediaMeta carries one block of caller audio: base64 μ-law at 8 kHz.
type mediaMeta struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// markMeta echoes a mark we sent once playback has passed it.
type markMeta struct {
	Name string `json:"name"`
}

type stopMeta struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type dtmfMeta struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// outboundMedia sends one block of assistant audio to the caller.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// outboundMark asks the provider to echo the mark back once everything
// queued before it has been played to the caller.
type outboundMark struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      markMeta `json:"mark"`
}

// outboundClear discards all audio the provider has buffered but not yet
// played. Sent on barge-in.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
