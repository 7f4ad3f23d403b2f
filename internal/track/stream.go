// Package track streams live GPS positions for a shared tracking session
// and decides how a map camera should follow them.
package track

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cargomart/cargomart-go/internal/bus"
	"github.com/cargomart/cargomart-go/internal/config"
	"github.com/cargomart/cargomart-go/internal/creds"
	"github.com/cargomart/cargomart-go/internal/models"
	"github.com/cargomart/cargomart-go/internal/rest"
)

var (
	// ErrTrackLinkInvalid is returned when a share link does not resolve
	// to an active session.
	ErrTrackLinkInvalid = errors.New("tracking link invalid or expired")

	// ErrStreamClosed is returned by Points and Err after Close.
	ErrStreamClosed = errors.New("track stream closed")
)

// PointsUpdate is published on bus.TrackPoints after every buffer change.
type PointsUpdate struct {
	SessionID string
	Points    []models.TrackPoint
	Decision  Decision
}

// Stream consumes one tracking session's socket. A dropped socket marks
// the stream failed and stops; the viewer decides whether to re-watch.
// Close is mandatory once the stream is no longer needed.
type Stream struct {
	sessionID string
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	buf      *buffer
	viewport *Viewport
	err      error
	closed   bool

	ws   *websocket.Conn
	done chan struct{}
}

func newStream(sessionID string, ws *websocket.Conn, cfg config.TrackConfig, b *bus.Bus, logger *zap.Logger) *Stream {
	s := &Stream{
		sessionID: sessionID,
		bus:       b,
		logger:    logger,
		buf:       newBuffer(cfg.BufferCap),
		viewport:  NewViewport(cfg),
		ws:        ws,
		done:      make(chan struct{}),
	}
	// Ask for the full replay; the server answers with a batch frame.
	if err := ws.WriteJSON(models.TrackFrame{Type: models.TrackFrameInit}); err != nil {
		logger.Warn("request track snapshot", zap.Error(err))
	}
	go s.readLoop()
	return s
}

// SessionID identifies the session this stream follows.
func (s *Stream) SessionID() string { return s.sessionID }

// Points returns the current buffer, oldest first.
func (s *Stream) Points() []models.TrackPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.snapshot()
}

// Err reports why the stream stopped, nil while it is live.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the stream stops for any reason.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close tears the socket down. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = ErrStreamClosed
	s.mu.Unlock()
	_ = s.ws.Close()
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		var frame models.TrackFrame
		if err := s.ws.ReadJSON(&frame); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
				s.closed = true
			}
			s.mu.Unlock()
			_ = s.ws.Close()
			return
		}
		s.ingest(frame)
	}
}

// ingest applies one socket frame to the buffer and publishes the result.
func (s *Stream) ingest(frame models.TrackFrame) {
	s.mu.Lock()
	switch frame.Type {
	case models.TrackFrameInit:
		// Session metadata only; nothing to buffer yet.
		s.mu.Unlock()
		return
	case models.TrackFrameBatch:
		s.buf.replace(frame.Points)
	case models.TrackFramePoint:
		if frame.Point == nil {
			s.mu.Unlock()
			s.logger.Warn("point frame without point", zap.String("session", s.sessionID))
			return
		}
		s.buf.insert(*frame.Point)
	default:
		s.mu.Unlock()
		s.logger.Debug("unhandled track frame", zap.String("type", frame.Type))
		return
	}
	points := s.buf.snapshot()
	decision := s.viewport.Observe(points)
	s.mu.Unlock()

	s.bus.Publish(bus.TrackPoints, PointsUpdate{
		SessionID: s.sessionID,
		Points:    points,
		Decision:  decision,
	})
}

// SessionResolver turns a share token into a session, usually the REST
// client.
type SessionResolver interface {
	ResolveTrackSession(ctx context.Context, shareToken string) (*models.TrackSession, error)
}

// Watcher opens tracking streams. Only one stream is live at a time:
// watching a new session tears the previous one down first.
type Watcher struct {
	gatewayURL string
	cfg        config.TrackConfig
	creds      creds.Provider
	resolver   SessionResolver
	bus        *bus.Bus
	logger     *zap.Logger
	dialer     *websocket.Dialer

	mu      sync.Mutex
	current *Stream
}

// NewWatcher creates a watcher dialing track sockets under gatewayURL.
func NewWatcher(gatewayURL string, cfg config.TrackConfig, provider creds.Provider, resolver SessionResolver, b *bus.Bus, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		gatewayURL: gatewayURL,
		cfg:        cfg,
		creds:      provider,
		resolver:   resolver,
		bus:        b,
		logger:     logger,
		dialer:     websocket.DefaultDialer,
	}
}

// Watch resolves a share token and opens its stream. An expired or unknown
// link returns ErrTrackLinkInvalid.
func (w *Watcher) Watch(ctx context.Context, shareToken string) (*Stream, error) {
	session, err := w.resolver.ResolveTrackSession(ctx, shareToken)
	if errors.Is(err, rest.ErrNotFound) {
		return nil, ErrTrackLinkInvalid
	}
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, ErrTrackLinkInvalid
	}

	token, err := w.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, _, err := w.dialer.DialContext(ctx, w.gatewayURL+"/track/"+session.SessionID, header)
	if err != nil {
		return nil, err
	}

	stream := newStream(session.SessionID, ws, w.cfg, w.bus, w.logger)

	w.mu.Lock()
	previous := w.current
	w.current = stream
	w.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	w.logger.Info("watching track session", zap.String("session", session.SessionID))
	return stream, nil
}

// Close stops the live stream, if any.
func (w *Watcher) Close() {
	w.mu.Lock()
	current := w.current
	w.current = nil
	w.mu.Unlock()
	if current != nil {
		current.Close()
	}
}
