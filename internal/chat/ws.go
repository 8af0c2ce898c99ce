package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream receives chat events over a websocket connection, redialing after
// any failure. Events the platform sends that don't parse are skipped rather
// than tearing the stream down.
type Stream struct {
	Endpoint string
	Token    string
	Log      *zap.Logger
}

func NewStream(endpoint, token string, log *zap.Logger) *Stream {
	return &Stream{Endpoint: endpoint, Token: token, Log: log}
}

// Run dials, subscribes, and feeds events to handle until ctx is done.
func (s *Stream) Run(ctx context.Context, handle func(Event)) {
	if s.Endpoint == "" {
		s.Log.Info("chat stream disabled: ws endpoint is empty")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.connect(ctx)
		if err != nil {
			s.Log.Warn("chat ws connect failed", zap.Error(err))
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		s.Log.Info("chat ws connected", zap.String("endpoint", s.Endpoint))

		s.readLoop(ctx, conn, handle)
		_ = conn.Close()
		sleepCtx(ctx, 2*time.Second)
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, s.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	sub := map[string]any{
		"op":    "subscribe",
		"token": s.Token,
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, handle func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.Log.Warn("chat ws read failed", zap.Error(err))
			return
		}

		ev, ok, err := ParseEvent(msg)
		if err != nil {
			s.Log.Warn("chat ws parse failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		handle(ev)
	}
}

// ParseEvent decodes one websocket frame. Frames without a user id are
// platform keepalives and are skipped.
func ParseEvent(msg []byte) (Event, bool, error) {
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return Event{}, false, err
	}
	if ev.UserID == "" {
		return Event{}, false, nil
	}
	switch ev.Type {
	case EventCommand, EventCallback, EventText:
	default:
		return Event{}, false, nil
	}
	return ev, true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
