package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxbridge/internal/protocol"
	"github.com/ent0n29/voxbridge/internal/speech"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleEventsWS streams speech lifecycle events and accepts stop requests.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.speaker.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 16)
	outbound <- s.statusEvent("status")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return false
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(wsWriteTimeout))
					cancel()
					return
				}
				if !write(s.wireEvent(evt)) {
					return
				}
			case msg := <-outbound:
				if !write(msg) {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		control, ok := parsed.(protocol.SpeechControl)
		if !ok {
			continue
		}
		switch control.Action {
		case protocol.ActionStop:
			if err := s.speaker.Stop(ctx); err != nil {
				s.enqueue(outbound, protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "stop_failed",
					Detail: err.Error(),
				})
			}
		case protocol.ActionStatus:
			s.enqueue(outbound, s.statusEvent("status"))
		}
	}

	cancel()
	<-writerDone
}

// enqueue drops the message when the writer is saturated.
func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		s.log.Debug("dropping websocket message", "reason", "outbound full")
	}
}

func (s *Server) statusEvent(kind string) protocol.SpeechEvent {
	st := s.speaker.Status()
	return protocol.SpeechEvent{
		Type:  protocol.TypeSpeechEvent,
		Kind:  kind,
		State: st.State,
		TSMs:  time.Now().UnixMilli(),
	}
}

func (s *Server) wireEvent(e speech.Event) protocol.SpeechEvent {
	return protocol.SpeechEvent{
		Type:   protocol.TypeSpeechEvent,
		Kind:   string(e.Kind),
		State:  s.speaker.Status().State,
		Audio:  e.Audio,
		Detail: e.Detail,
		TSMs:   e.At.UnixMilli(),
	}
}
