package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petrijr/stagehand/internal/metrics"
	"github.com/petrijr/stagehand/pkg/api"
)

// Client relays its input edge to a remote server and emits whatever the
// server sends back. It is registered as "socket_client".
type Client struct {
	opts    ClientOptions
	codec   Codec
	metrics *metrics.Bridge

	conn   *websocket.Conn
	reader *frameReader
}

var _ api.Stage = (*Client)(nil)

// NewClient creates a client stage. The connection is opened in Setup.
func NewClient(opts ClientOptions) (*Client, error) {
	codec, err := newCodec(opts.Key)
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, codec: codec, metrics: metrics.DefaultBridge()}, nil
}

func newClientStage(cfg api.StageConfig) (api.Stage, error) {
	opts, err := ClientOptionsFrom(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(opts)
}

// URL is the websocket endpoint the client dials.
func (c *Client) URL() string {
	u := url.URL{Scheme: "ws", Host: hostPort(c.opts.Host, c.opts.Port), Path: c.opts.Path}
	return u.String()
}

func (c *Client) Setup(ctx context.Context, rt api.Runtime) error {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	target := c.URL()

	var lastErr error
	for attempt := 1; attempt <= c.opts.ConnectAttempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, target, nil)
		if err == nil {
			conn.SetReadLimit(maxFrameSize)
			c.conn = conn
			c.reader = startReader(conn, c.opts.ReadBuffer)
			rt.Logger().Info("server_connected",
				slog.String("url", target),
				slog.Bool("encrypted", c.codec.Cipher != nil),
			)
			return nil
		}
		lastErr = err
		rt.Logger().Warn("connect_failed",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == c.opts.ConnectAttempts {
			break
		}

		t := time.NewTimer(c.opts.ConnectBackoff)
		select {
		case <-t.C:
		case <-rt.ExitSignal():
			t.Stop()
			return fmt.Errorf("connect %s: exit requested", target)
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect %s: %w", target, lastErr)
}

func (c *Client) Startup(ctx context.Context, rt api.Runtime) error { return nil }

// Routine makes one outbound send attempt and one inbound receive attempt.
func (c *Client) Routine(ctx context.Context, rt api.Runtime) error {
	did := false

	if msg, ok := rt.Next(); ok {
		did = true
		frame, err := c.codec.Encode(msg)
		if err != nil {
			return fmt.Errorf("encode %q: %w", msg.Command(), err)
		}
		if err := writeFrame(c.conn, frame); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		c.metrics.FrameSent(rt.Name())
	}

	data, ok, err := c.reader.TryRead()
	if err != nil {
		return fmt.Errorf("connection lost: %w", err)
	}
	if ok {
		did = true
		c.deliver(rt, data)
	}

	if !did {
		return api.ErrNoInput
	}
	return nil
}

func (c *Client) deliver(rt api.Runtime, data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrDecrypt) {
			reason = "decrypt"
		}
		rt.Logger().Warn("frame_dropped", slog.String("reason", reason), slog.Any("error", err))
		c.metrics.FrameDropped(rt.Name(), reason)
		return
	}
	c.metrics.FrameReceived(rt.Name())
	rt.Emit(msg)
}

func (c *Client) Cleanup(ctx context.Context, rt api.Runtime) error {
	if c.conn == nil {
		return nil
	}
	c.reader.Stop()
	closeConn(c.conn, websocket.CloseNormalClosure, "")
	c.conn = nil
	rt.Logger().Info("server_disconnected", slog.String("url", c.URL()))
	return nil
}

func writeFrame(conn *websocket.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// closeConn sends a close frame (best effort) and closes the socket.
func closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(closeTimeout))
	_ = conn.Close()
}
