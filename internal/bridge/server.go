package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/petrijr/stagehand/internal/metrics"
	"github.com/petrijr/stagehand/pkg/api"
)

// KeyConnectionStart is added to every envelope the server sends; it holds
// the start time of the connection the envelope was sent on.
const KeyConnectionStart = "connection_start"

// Server accepts a single peer at a time and relays envelopes between it
// and the pipeline. It is registered as "socket_server".
//
// The HTTP listener accepts on its own goroutine. The connection handler,
// not Routine, moves the messages: Routine only watches the listener.
type Server struct {
	opts    ServerOptions
	codec   Codec
	metrics *metrics.Bridge
	allowed map[string]bool

	upgrader websocket.Upgrader
	srv      *http.Server
	ln       net.Listener
	serveErr chan error

	rt     api.Runtime
	ctx    context.Context
	logger *slog.Logger

	active atomic.Bool

	mu          sync.Mutex
	conn        *websocket.Conn
	handlerDone chan struct{}
}

var _ api.Stage = (*Server)(nil)

// NewServer creates a server stage. The listener is bound in Setup.
func NewServer(opts ServerOptions) (*Server, error) {
	codec, err := newCodec(opts.Key)
	if err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if len(opts.Commands) > 0 {
		allowed = make(map[string]bool, len(opts.Commands))
		for _, c := range opts.Commands {
			allowed[c] = true
		}
	}

	return &Server{
		opts:    opts,
		codec:   codec,
		metrics: metrics.DefaultBridge(),
		allowed: allowed,
		upgrader: websocket.Upgrader{
			// Peers are pipeline processes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		serveErr: make(chan error, 1),
	}, nil
}

func newServerStage(cfg api.StageConfig) (api.Stage, error) {
	opts, err := ServerOptionsFrom(cfg)
	if err != nil {
		return nil, err
	}
	return NewServer(opts)
}

// Addr returns the bound listener address once Setup has run.
func (s *Server) Addr() string {
	if s.ln == nil {
		return hostPort(s.opts.Host, s.opts.Port)
	}
	return s.ln.Addr().String()
}

func (s *Server) Setup(ctx context.Context, rt api.Runtime) error {
	ln, err := net.Listen("tcp", hostPort(s.opts.Host, s.opts.Port))
	if err != nil {
		return err
	}
	s.ln = ln
	s.rt = rt
	s.ctx = ctx
	s.logger = rt.Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metrics.RequestLogger(s.logger))
	r.Get(s.opts.Path, s.handleConnection)

	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()

	s.logger.Info("server_listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("path", s.opts.Path),
		slog.Bool("encrypted", s.codec.Cipher != nil),
	)
	return nil
}

func (s *Server) Startup(ctx context.Context, rt api.Runtime) error { return nil }

// Routine fails the worker if the acceptor stopped; otherwise it idles.
func (s *Server) Routine(ctx context.Context, rt api.Runtime) error {
	select {
	case err := <-s.serveErr:
		return err
	default:
		return api.ErrNoInput
	}
}

func (s *Server) Cleanup(ctx context.Context, rt api.Runtime) error {
	if s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)

	// Hijacked websocket connections are not closed by Shutdown.
	s.mu.Lock()
	conn, done := s.conn, s.handlerDone
	s.mu.Unlock()
	if conn != nil {
		closeConn(conn, websocket.CloseGoingAway, "server shutting down")
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
			rt.Logger().Warn("handler_still_running")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade_failed", slog.String("remote_addr", r.RemoteAddr), slog.Any("error", err))
		return
	}

	if !s.active.CompareAndSwap(false, true) {
		s.logger.Warn("connection_rejected",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("reason", "another client is connected"),
		)
		s.metrics.ConnectionRejected(s.rt.Name())
		closeConn(conn, websocket.CloseTryAgainLater, "another client is connected")
		return
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn, s.handlerDone = conn, done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn, s.handlerDone = nil, nil
		s.mu.Unlock()
		s.active.Store(false)
		close(done)
	}()

	s.relay(conn, r.RemoteAddr)
}

// relay runs the active connection until the peer leaves, an I/O error
// occurs or the pipeline exits. Anything still queued afterwards belonged
// to this peer and is discarded.
func (s *Server) relay(conn *websocket.Conn, remote string) {
	start := time.Now()
	startStamp := api.FormatTimestamp(start)
	logger := s.logger.With(
		slog.String("connection_id", uuid.NewString()),
		slog.String("remote_addr", remote),
	)

	conn.SetReadLimit(maxFrameSize)
	reader := startReader(conn, s.opts.ReadBuffer)
	name := s.rt.Name()

	logger.Info("client_connected")
	s.metrics.SetConnected(name, true)

	defer func() {
		reader.Stop()
		closeConn(conn, websocket.CloseNormalClosure, "")
		n := s.rt.DrainInput() + s.rt.DrainOutputs()
		logger.Debug("queues_drained", slog.Int("messages", n))
		s.metrics.SetConnected(name, false)
		logger.Info("client_disconnected")
	}()

	for {
		if s.rt.Exiting() || s.ctx.Err() != nil {
			return
		}
		did := false

		data, ok, err := reader.TryRead()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("connection_closed")
			} else {
				logger.Warn("connection_lost", slog.Any("error", err))
			}
			return
		}
		if ok {
			did = true
			s.deliver(logger, data)
		}

		if msg, ok := s.rt.Next(); ok {
			did = true
			if !s.send(logger, conn, msg, start, startStamp) {
				return
			}
		}

		if !did {
			select {
			case <-time.After(idleInterval):
			case <-s.rt.ExitSignal():
			case <-s.ctx.Done():
			}
		}
	}
}

func (s *Server) deliver(logger *slog.Logger, data []byte) {
	name := s.rt.Name()

	msg, err := s.codec.Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrDecrypt) {
			reason = "decrypt"
		}
		logger.Warn("frame_dropped", slog.String("reason", reason), slog.Any("error", err))
		s.metrics.FrameDropped(name, reason)
		return
	}

	if s.allowed != nil && !s.allowed[msg.Command()] {
		logger.Debug("command_filtered", slog.String("command", msg.Command()))
		s.metrics.FrameDropped(name, "filtered")
		return
	}

	s.metrics.FrameReceived(name)
	s.rt.Emit(msg)
}

// send writes msg unless it predates the connection. It reports false when
// the connection is unusable.
func (s *Server) send(logger *slog.Logger, conn *websocket.Conn, msg api.Envelope, start time.Time, startStamp string) bool {
	name := s.rt.Name()

	ts, ok := msg.Timestamp()
	if !ok || ts.Before(start) {
		logger.Debug("stale_message_dropped",
			slog.String("command", msg.Command()),
			slog.String("timestamp", msg.String(api.KeyTimestamp)),
		)
		s.metrics.FrameDropped(name, "stale")
		return true
	}

	out := msg.Clone()
	out[KeyConnectionStart] = startStamp
	frame, err := s.codec.Encode(out)
	if err != nil {
		logger.Error("encode_failed", slog.String("command", msg.Command()), slog.Any("error", err))
		return true
	}
	if err := writeFrame(conn, frame); err != nil {
		logger.Warn("send_failed", slog.Any("error", err))
		return false
	}
	s.metrics.FrameSent(name)
	return true
}
