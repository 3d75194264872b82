// Package telephony connects the voice provider to the call pipeline: the
// answer webhook that opens a media stream, the websocket endpoint the
// stream connects to, webhook signature validation, the head and tail
// pipeline stages that move call audio, and the REST caller used to dial
// outbound reminder calls.
//
// Audio arrives as base64 μ-law at 8 kHz and leaves the same way. Inside
// the pipeline all audio is 16-bit PCM; this package owns the μ-law
// boundary.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/pkg/audio"
	"github.com/agewell-labs/donna/pkg/types"
)

// handshakeTimeout bounds the wait for the start event after the socket
// upgrade.
const handshakeTimeout = 10 * time.Second

// CallInfo identifies a connected media stream.
type CallInfo struct {
	CallSID    string
	StreamSID  string
	AccountSID string

	// Caller is the caller's number, forwarded as the "caller" stream
	// parameter by the answer webhook. Empty when the webhook saw no From.
	Caller string

	// Parameters holds all custom stream parameters from the answering
	// TwiML, including the scheduler's routing hints on outbound calls.
	Parameters map[string]string
}

// StreamSession is one live call's assembled pipeline.
type StreamSession struct {
	// Task is the processor chain, not yet running.
	Task *pipeline.Task

	// Output is the chain's tail; the socket read loop feeds mark
	// acknowledgements to it.
	Output *Output

	// Greeting, when non-empty, is spoken as a complete assistant response
	// the moment the stream starts, before the caller says anything.
	Greeting string

	// OnClose, when set, runs after the task has ended and the socket is
	// closed. The post-call flow hangs off it.
	OnClose func(reason string)
}

// SessionFactory assembles a call session for a connected media stream. The
// application's implementation looks up the senior, gathers context and
// builds the processor chain.
type SessionFactory interface {
	CreateSession(ctx context.Context, info CallInfo, sink MediaSink) (*StreamSession, error)
}

// SocketWriter implements [MediaSink] over a media stream websocket. Writes
// are serialised: the sender goroutine and the barge-in clear path may write
// concurrently.
type SocketWriter struct {
	conn      *websocket.Conn
	streamSID string
	mu        sync.Mutex
}

// NewSocketWriter wraps an accepted media stream connection.
func NewSocketWriter(conn *websocket.Conn, streamSID string) *SocketWriter {
	return &SocketWriter{conn: conn, streamSID: streamSID}
}

// SendMedia implements MediaSink.
func (w *SocketWriter) SendMedia(ctx context.Context, payload string) error {
	return w.send(ctx, outboundMedia{
		Event:     eventMedia,
		StreamSID: w.streamSID,
		Media:     mediaPayload{Payload: payload},
	})
}

// SendMark implements MediaSink.
func (w *SocketWriter) SendMark(ctx context.Context, name string) error {
	return w.send(ctx, outboundMark{
		Event:     eventMark,
		StreamSID: w.streamSID,
		Mark:      markMeta{Name: name},
	})
}

// SendClear implements MediaSink.
func (w *SocketWriter) SendClear(ctx context.Context) error {
	return w.send(ctx, outboundClear{Event: eventClear, StreamSID: w.streamSID})
}

func (w *SocketWriter) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// MediaHandler is the websocket endpoint media streams connect to. Each
// connection owns one call pipeline for its lifetime: the handler reads the
// start event, asks the factory for a session, runs the task and pumps
// socket events into it until either side hangs up.
type MediaHandler struct {
	factory SessionFactory
}

// NewMediaHandler builds the endpoint around a session factory.
func NewMediaHandler(factory SessionFactory) *MediaHandler {
	return &MediaHandler{factory: factory}
}

// ServeHTTP implements http.Handler.
func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The provider's media client is not a browser and sends no Origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("media stream accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream handler exited")

	start, err := h.awaitStart(r.Context(), conn)
	if err != nil {
		slog.Warn("media stream handshake failed", "err", err)
		conn.Close(websocket.StatusPolicyViolation, "expected start event")
		return
	}

	info := CallInfo{
		CallSID:    start.CallSID,
		StreamSID:  start.StreamSID,
		AccountSID: start.AccountSID,
		Caller:     start.CustomParameters["caller"],
		Parameters: start.CustomParameters,
	}
	log := slog.With("call_sid", info.CallSID, "stream_sid", info.StreamSID)
	log.Info("media stream connected", "caller", info.Caller)

	sink := NewSocketWriter(conn, info.StreamSID)
	sess, err := h.factory.CreateSession(r.Context(), info, sink)
	if err != nil {
		log.Error("session assembly failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	// The task outlives the request context on purpose: the request dies
	// with the socket, but draining and the post-call flow must not.
	taskCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := sess.Task.Run(taskCtx); err != nil {
			log.Warn("pipeline aborted", "err", err)
		}
	}()

	// When the task ends first (goodbye, hard limit) closing the socket
	// unblocks the read loop below.
	go func() {
		<-sess.Task.Done()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	sess.Task.Inject(pipeline.Head, pipeline.StartFrame{
		CallSID:   info.CallSID,
		StreamSID: info.StreamSID,
	}, pipeline.Downstream)

	// The greeting travels as a normal response so the tracker records it
	// and the synthesizer speaks it.
	if sess.Greeting != "" {
		sess.Task.Inject(pipeline.Head, pipeline.ResponseStartFrame{}, pipeline.Downstream)
		sess.Task.Inject(pipeline.Head, pipeline.TextFrame{Text: sess.Greeting}, pipeline.Downstream)
		sess.Task.Inject(pipeline.Head, pipeline.ResponseEndFrame{}, pipeline.Downstream)
	}

	h.readLoop(r.Context(), conn, sess, log)

	<-sess.Task.Done()
	log.Info("call ended", "reason", sess.Task.EndReason())
	if sess.OnClose != nil {
		sess.OnClose(sess.Task.EndReason())
	}
}

// awaitStart reads socket events until the start envelope arrives. The
// provider sends connected first, then start; media only follows start.
func (h *MediaHandler) awaitStart(ctx context.Context, conn *websocket.Conn) (*startMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("undecodable stream event: %w", err)
		}
		switch ev.Event {
		case eventConnected:
			continue
		case eventStart:
			if ev.Start == nil || ev.Start.CallSID == "" {
				return nil, errors.New("start event missing call sid")
			}
			return ev.Start, nil
		default:
			return nil, fmt.Errorf("unexpected %q event before start", ev.Event)
		}
	}
}

// readLoop pumps socket events into the running task until the connection
// drops or is closed by the task-end watcher.
func (h *MediaHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *StreamSession, log *slog.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if sess.Task.State() != pipeline.StateEnded {
				// The caller hung up or the connection dropped. Playback
				// acknowledgements can no longer arrive, so the drain must
				// not wait for them.
				sess.Output.Abandon()
				sess.Task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "socket_closed"}, pipeline.Downstream)
			}
			return
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn("undecodable stream event", "err", err)
			continue
		}

		switch ev.Event {
		case eventMedia:
			if ev.Media == nil {
				continue
			}
			ulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				log.Warn("undecodable media payload", "err", err)
				continue
			}
			sess.Task.Inject(pipeline.Head, pipeline.AudioFrame{Audio: types.AudioFrame{
				Data:       audio.DecodeUlaw(ulaw),
				SampleRate: telephonyRate,
				Channels:   1,
			}}, pipeline.Downstream)
		case eventMark:
			if ev.Mark != nil {
				sess.Output.HandleMark(ev.Mark.Name)
			}
		case eventStop:
			sess.Task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "provider_stop"}, pipeline.Downstream)
		case eventDTMF:
			if ev.DTMF != nil {
				log.Debug("dtmf received", "digit", ev.DTMF.Digit)
			}
		case eventConnected, eventStart:
			// connected precedes start; a duplicated start is ignored.
		default:
			log.Debug("unhandled stream event", "event", ev.Event)
		}
	}
}
