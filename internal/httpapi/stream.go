package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// writeTimeout bounds one outbound frame write on the media stream.
const writeTimeout = 10 * time.Second

// maxFrameSize caps inbound media-stream messages.
const maxFrameSize = 1 << 20

// wsSink adapts the media-stream connection to [session.AudioSink].
type wsSink struct {
	conn      *websocket.Conn
	streamSID string

	// mu serializes writes; playback and barge-in clears race otherwise.
	mu sync.Mutex
}

var _ session.AudioSink = (*wsSink)(nil)

func (s *wsSink) SendAudio(payload []byte) error {
	frame, err := telephony.MediaMessage(s.streamSID, payload)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *wsSink) SendMark(name string) error {
	frame, err := telephony.MarkMessage(s.streamSID, name)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *wsSink) Clear() error {
	frame, err := telephony.ClearMessage(s.streamSID)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *wsSink) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

// handleMedia owns one provider media-stream connection: the start event
// binds it to a session, media and DTMF are forwarded in, and stop tears the
// session down.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("httpapi: media stream accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream handler exited")
	conn.SetReadLimit(maxFrameSize)

	ctx := r.Context()
	var (
		sess     *session.Session
		callID   string
		lastDTMF time.Time
	)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if sess != nil {
				slog.Info("httpapi: media stream closed", "call_id", callID, "err", err)
			}
			return
		}
		ev, err := telephony.ParseEvent(data)
		if err != nil {
			slog.Debug("httpapi: undecodable stream message", "err", err)
			continue
		}

		switch ev.Kind {
		case telephony.EventConnected:
			// Handshake noise; the start event carries the binding.

		case telephony.EventStart:
			callID = ev.Start.CustomParameters["call_id"]
			if callID == "" {
				callID = ev.Start.CallSID
			}
			bound, ok := s.registry.Get(callID)
			if !ok {
				slog.Warn("httpapi: media stream for unknown call", "call_id", callID)
				conn.Close(websocket.StatusPolicyViolation, "unknown call")
				return
			}
			sink := &wsSink{conn: conn, streamSID: ev.Start.StreamSID}
			if err := bound.AttachStream(ctx, sink); err != nil {
				slog.Warn("httpapi: stream attach refused", "call_id", callID, "err", err)
				conn.Close(websocket.StatusPolicyViolation, "session ended")
				return
			}
			sess = bound
			s.lifecycle.ObserveAnswered(callID)
			slog.Info("httpapi: media stream attached",
				"call_id", callID, "stream_sid", ev.Start.StreamSID,
				"encoding", ev.Start.Encoding, "sample_rate", ev.Start.SampleRate)

		case telephony.EventMedia:
			if sess == nil || ev.Media.Track == "outbound" {
				continue
			}
			sess.HandleMedia(ev.Media.Payload)
			s.lifecycle.ObserveMedia(callID)

		case telephony.EventDTMF:
			if sess == nil {
				continue
			}
			gap := 0
			now := time.Now()
			if !lastDTMF.IsZero() {
				gap = int(now.Sub(lastDTMF) / time.Millisecond)
			}
			lastDTMF = now
			sess.HandleDTMF(ev.DTMF.Digit, gap)

		case telephony.EventMark:
			slog.Debug("httpapi: playback mark echoed", "call_id", callID, "name", ev.Mark.Name)

		case telephony.EventStop:
			if sess != nil {
				sess.End("provider_disconnect", "")
			}
			conn.Close(websocket.StatusNormalClosure, "stream stopped")
			return
		}
	}
}
