// Package conn owns the single multiplexed connection to the realtime
// gateway. It handles the authenticated handshake, heartbeats, reconnection
// with backoff and credential refresh, and hands every inbound frame to the
// registered consumers in arrival order.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cargomart/cargomart-go/internal/config"
	"github.com/cargomart/cargomart-go/internal/creds"
	"github.com/cargomart/cargomart-go/internal/models"
	"github.com/cargomart/cargomart-go/internal/status"
)

var (
	// ErrNotConnected is returned by Send when no live socket exists.
	// Callers should queue and retry once the connection is back.
	ErrNotConnected = errors.New("not connected")

	// ErrAuthExpired is fatal: the gateway rejected the credential again
	// after a refresh. The host application must re-authenticate.
	ErrAuthExpired = errors.New("auth expired")
)

// FrameHandler receives every decoded inbound frame, on the read goroutine,
// strictly in arrival order.
type FrameHandler func(models.Frame)

// Manager owns the gateway socket.
type Manager struct {
	url     string
	cfg     config.RealtimeConfig
	creds   creds.Provider
	machine *status.Machine
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu       sync.Mutex
	ws       *websocket.Conn
	handlers []FrameHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a manager for the given gateway URL. Frame handlers must be
// registered before Run.
func New(gatewayURL string, cfg config.RealtimeConfig, provider creds.Provider, machine *status.Machine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		url:     gatewayURL,
		cfg:     cfg,
		creds:   provider,
		machine: machine,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		closed:  make(chan struct{}),
	}
}

// OnFrame registers a consumer for inbound frames.
func (m *Manager) OnFrame(h FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Send writes one JSON frame to the live socket.
func (m *Manager) Send(frame any) error {
	m.mu.Lock()
	ws := m.ws
	m.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	return ws.WriteJSON(frame)
}

// Close tears the connection down deliberately; Run returns nil.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.mu.Lock()
		if m.ws != nil {
			_ = m.ws.Close()
		}
		m.mu.Unlock()
	})
}

// Run drives the connect/serve/reconnect loop until ctx is canceled, Close
// is called, or the credential expires. Socket errors never propagate;
// they feed the backoff loop and the state machine instead.
func (m *Manager) Run(ctx context.Context) error {
	backoff := Backoff{Initial: m.cfg.BackoffInitial, Max: m.cfg.BackoffMax}
	attempt := 0
	refreshed := false

	for {
		if err := m.machine.Transition(status.Connecting); err != nil {
			// Already CLOSED via Close().
			return nil
		}

		ws, authErr, err := m.dialClosable(ctx)
		switch {
		case err == nil:
			// Close may have raced the handshake; a deliberately closed
			// manager never starts pumping frames.
			if m.isClosed() {
				_ = ws.Close()
				m.close(status.Closed)
				return nil
			}
		case authErr && !refreshed:
			m.logger.Warn("gateway rejected credential, refreshing")
			if _, rerr := m.creds.Refresh(ctx); rerr != nil {
				m.close(status.Closed)
				return fmt.Errorf("%w: %v", ErrAuthExpired, rerr)
			}
			refreshed = true
			continue
		case authErr:
			m.close(status.Closed)
			return ErrAuthExpired
		default:
			if m.isClosed() || ctx.Err() != nil {
				m.close(status.Closed)
				return nil
			}
			delay := backoff.Delay(attempt)
			attempt++
			m.logger.Warn("dial failed, backing off",
				zap.Error(err), zap.Duration("delay", delay), zap.Int("attempt", attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				m.close(status.Closed)
				return nil
			case <-m.closed:
				m.close(status.Closed)
				return nil
			}
			continue
		}

		attempt = 0
		refreshed = false
		m.setSocket(ws)
		_ = m.machine.Transition(status.Connected)
		m.logger.Info("gateway connected")

		err = m.serve(ctx, ws)
		m.setSocket(nil)

		if m.isClosed() || ctx.Err() != nil {
			m.close(status.Closed)
			return nil
		}

		m.logger.Warn("gateway connection lost", zap.Error(err))
		_ = m.machine.Transition(status.Reconnecting)
	}
}

// dialClosable runs dial under a context that Close cancels, so a
// deliberate shutdown interrupts an in-flight handshake instead of
// waiting it out.
func (m *Manager) dialClosable(ctx context.Context) (*websocket.Conn, bool, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.closed:
			cancel()
		case <-dialCtx.Done():
		}
	}()
	return m.dial(dialCtx)
}

// dial attempts one websocket handshake. authErr reports a 401-equivalent
// rejection, which gets a credential refresh rather than plain backoff.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, bool, error) {
	token, err := m.creds.Token(ctx)
	if err != nil {
		return nil, true, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, true, err
		}
		return nil, false, err
	}
	return ws, false, nil
}

// serve pumps frames until the socket dies. The read pump and the
// heartbeat run under one errgroup; the first failure tears both down.
func (m *Manager) serve(ctx context.Context, ws *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readTimeout := 2*m.cfg.HeartbeatInterval + 5*time.Second
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		_ = ws.Close()
		return nil
	})

	g.Go(func() error {
		return m.readPump(ws)
	})

	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return fmt.Errorf("heartbeat: %w", err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readPump decodes and dispatches frames. A frame that is not valid JSON
// or carries no event discriminator is logged and dropped; the loop never
// dies on bad input.
func (m *Manager) readPump(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := decodeFrame(data)
		if err != nil {
			m.logger.Warn("malformed frame dropped", zap.Error(err), zap.ByteString("raw", truncateRaw(data)))
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame models.Frame) {
	m.mu.Lock()
	handlers := make([]FrameHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (m *Manager) setSocket(ws *websocket.Conn) {
	m.mu.Lock()
	m.ws = ws
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Manager) close(to status.State) {
	_ = m.machine.Transition(to)
}

func decodeFrame(data []byte) (models.Frame, error) {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return models.Frame{}, err
	}
	if head.Event == "" {
		return models.Frame{}, errors.New("frame missing event field")
	}
	return models.Frame{Event: head.Event, Raw: json.RawMessage(data)}, nil
}

func truncateRaw(data []byte) []byte {
	const max = 256
	if len(data) > max {
		return data[:max]
	}
	return data
}
