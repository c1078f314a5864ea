package bridge

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/stagehand/internal/edge"
	"github.com/petrijr/stagehand/pkg/api"
	"github.com/petrijr/stagehand/pkg/worker"
)

const waitTimeout = 5 * time.Second

// harness runs one bridge stage inside a real worker with an input and an
// output edge.
type harness struct {
	w     *worker.Worker
	in    *edge.InMemoryEdge
	out   *edge.InMemoryEdge
	start *api.Signal
	exit  *api.Signal
}

func runStage(t *testing.T, name string, stage api.Stage) *harness {
	t.Helper()

	h := &harness{
		in:    edge.NewInMemoryEdge("pipe->" + name),
		out:   edge.NewInMemoryEdge(name + "->pipe"),
		start: api.NewSignal("start"),
		exit:  api.NewSignal("exit"),
	}
	h.w = worker.New(name, stage, worker.Config{
		Start:        h.start,
		Exit:         h.exit,
		IdleInterval: 5 * time.Millisecond,
	})
	require.NoError(t, h.w.SetInput(h.in))
	h.w.AddOutput(h.out)
	require.NoError(t, h.w.Start(context.Background()))

	t.Cleanup(func() {
		h.exit.Set()
		if !h.w.Join(waitTimeout) {
			h.w.Kill()
			h.w.Join(time.Second)
		}
	})
	return h
}

func (h *harness) release(t *testing.T) {
	t.Helper()
	select {
	case <-h.w.Ready().Done():
	case <-h.w.Terminated():
		t.Fatalf("stage terminated before ready: %v", h.w.Err())
	case <-time.After(waitTimeout):
		t.Fatal("stage never became ready")
	}
	h.start.Set()
}

func (h *harness) next(t *testing.T) api.Envelope {
	t.Helper()
	var msg api.Envelope
	require.Eventually(t, func() bool {
		var ok bool
		msg, ok = h.out.TryGet()
		return ok
	}, waitTimeout, 5*time.Millisecond)
	return msg
}

func startServer(t *testing.T, opts ServerOptions) (*Server, *harness) {
	t.Helper()
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.ReadBuffer == 0 {
		opts.ReadBuffer = 16
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)

	h := runStage(t, "socket_server", srv)
	h.release(t)
	return srv, h
}

// peer is a bare websocket client standing in for a remote process.
type peer struct {
	conn  *websocket.Conn
	codec Codec
}

func dialPeer(t *testing.T, srv *Server, key string) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{conn: conn, codec: mustCodec(t, key)}
}

func (p *peer) send(t *testing.T, msg api.Envelope) {
	t.Helper()
	frame, err := p.codec.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteMessage(websocket.BinaryMessage, frame))
}

func (p *peer) receive(t *testing.T) api.Envelope {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := p.conn.ReadMessage()
	require.NoError(t, err)
	msg, err := p.codec.Decode(data)
	require.NoError(t, err)
	return msg
}

func futureEnvelope(command string) api.Envelope {
	msg := api.NewEnvelope(command)
	// Clear of the connection start even on a coarse clock.
	msg[api.KeyTimestamp] = api.FormatTimestamp(time.Now().Add(time.Second))
	return msg
}

func TestServer_ForwardsAudioBitIdentical(t *testing.T) {
	key := mustKey(t)
	srv, h := startServer(t, ServerOptions{Key: key, Commands: DefaultCommands})
	p := dialPeer(t, srv, key)

	audio := sampleAudio()
	p.send(t, api.Envelope{api.KeyCommand: api.CommandTranscribe, api.KeyAudio: audio})

	got := h.next(t)
	assert.Equal(t, api.CommandTranscribe, got.Command())
	samples, ok := got[api.KeyAudio].([]float32)
	require.True(t, ok)
	requireSameBits(t, audio, samples)
}

func TestServer_FiltersCommands(t *testing.T) {
	srv, h := startServer(t, ServerOptions{Commands: []string{api.CommandConv}})
	p := dialPeer(t, srv, "")

	p.send(t, api.Envelope{api.KeyCommand: "faq"})
	p.send(t, api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "hi"})

	got := h.next(t)
	assert.Equal(t, api.CommandConv, got.Command())
	assert.Equal(t, 0, h.out.Len())
}

func TestServer_DropsFramesUnderWrongKey(t *testing.T) {
	srv, h := startServer(t, ServerOptions{Key: mustKey(t)})
	good := dialPeer(t, srv, "")
	good.codec = srv.codec

	intruder := &peer{conn: good.conn, codec: mustCodec(t, mustKey(t))}
	intruder.send(t, api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "forged"})
	good.send(t, api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "real"})

	got := h.next(t)
	assert.Equal(t, "real", got.String(api.KeyText))
	assert.Equal(t, 0, h.out.Len())
}

func TestServer_RejectsSecondConnection(t *testing.T) {
	srv, h := startServer(t, ServerOptions{})
	first := dialPeer(t, srv, "")

	first.send(t, api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "one"})
	assert.Equal(t, "one", h.next(t).String(api.KeyText))

	second := dialPeer(t, srv, "")
	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := second.conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)

	// The active stream is untouched in both directions.
	first.send(t, api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "two"})
	assert.Equal(t, "two", h.next(t).String(api.KeyText))

	h.in.Put(futureEnvelope(api.CommandConv))
	assert.Equal(t, api.CommandConv, first.receive(t).Command())
}

func TestServer_SuppressesStaleMessages(t *testing.T) {
	srv, h := startServer(t, ServerOptions{})
	p := dialPeer(t, srv, "")

	old := api.NewEnvelope("old")
	old[api.KeyTimestamp] = api.FormatTimestamp(time.Now().Add(-time.Hour))
	h.in.Put(old)
	h.in.Put(api.Envelope{api.KeyCommand: "untimed"})
	h.in.Put(futureEnvelope("fresh"))

	got := p.receive(t)
	assert.Equal(t, "fresh", got.Command())

	stamp, err := api.ParseTimestamp(got.String(KeyConnectionStart))
	require.NoError(t, err)
	ts, ok := got.Timestamp()
	require.True(t, ok)
	assert.False(t, ts.Before(stamp))
}

func TestServer_DrainsQueuesOnDisconnect(t *testing.T) {
	srv, h := startServer(t, ServerOptions{})
	p := dialPeer(t, srv, "")

	for range 3 {
		p.send(t, api.Envelope{api.KeyCommand: api.CommandConv})
	}
	require.Eventually(t, func() bool { return h.out.Len() == 3 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool { return h.out.Len() == 0 && !srv.active.Load() },
		waitTimeout, 5*time.Millisecond)

	// A new peer is accepted once the old one is gone.
	next := dialPeer(t, srv, "")
	next.send(t, api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "again"})
	assert.Equal(t, "again", h.next(t).String(api.KeyText))
}

func TestServer_ExitClosesPeer(t *testing.T) {
	srv, h := startServer(t, ServerOptions{})
	p := dialPeer(t, srv, "")
	require.Eventually(t, srv.active.Load, waitTimeout, 5*time.Millisecond)

	h.exit.Set()
	require.True(t, h.w.Join(waitTimeout))
	require.NoError(t, h.w.Err())

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := p.conn.ReadMessage()
	require.Error(t, err)
}

// echoServer upgrades every request and writes each frame straight back.
func echoServer(t *testing.T) (host string, port int) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	h, p, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

func TestClient_RoundTripsThroughPeer(t *testing.T) {
	host, port := echoServer(t)
	key := mustKey(t)

	c, err := NewClient(ClientOptions{Host: host, Port: port, Path: "/", Key: key, ConnectAttempts: 1, ReadBuffer: 8})
	require.NoError(t, err)
	h := runStage(t, "socket_client", c)
	h.release(t)

	audio := sampleAudio()
	h.in.Put(api.Envelope{api.KeyCommand: api.CommandTranscribe, api.KeyAudio: audio})

	got := h.next(t)
	assert.Equal(t, api.CommandTranscribe, got.Command())
	samples, ok := got[api.KeyAudio].([]float32)
	require.True(t, ok)
	requireSameBits(t, audio, samples)
}

func TestClient_SetupFailsWithoutServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c, err := NewClient(ClientOptions{Host: "127.0.0.1", Port: port, Path: "/", ConnectAttempts: 2, ConnectBackoff: 10 * time.Millisecond, ReadBuffer: 1})
	require.NoError(t, err)
	h := runStage(t, "socket_client", c)

	select {
	case <-h.w.Terminated():
	case <-time.After(waitTimeout):
		t.Fatal("worker did not terminate")
	}
	assert.False(t, h.w.Ready().IsSet())
	require.Error(t, h.w.Err())
	assert.Contains(t, h.w.Err().Error(), "connect")
}

func TestClient_FailsWhenServerGoesAway(t *testing.T) {
	srv, sh := startServer(t, ServerOptions{})
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewClient(ClientOptions{Host: host, Port: port, Path: "/", ConnectAttempts: 1, ReadBuffer: 8})
	require.NoError(t, err)
	h := runStage(t, "socket_client", c)
	h.release(t)

	// Client to server, then server back to client.
	h.in.Put(api.Envelope{api.KeyCommand: api.CommandConv, api.KeyText: "up"})
	assert.Equal(t, "up", sh.next(t).String(api.KeyText))
	sh.in.Put(futureEnvelope("down"))
	assert.Equal(t, "down", h.next(t).Command())

	sh.exit.Set()
	require.True(t, sh.w.Join(waitTimeout))

	select {
	case <-h.w.Terminated():
	case <-time.After(waitTimeout):
		t.Fatal("client did not notice the server leaving")
	}
	require.Error(t, h.w.Err())
	assert.Contains(t, h.w.Err().Error(), "connection lost")
}

func TestOptionsFrom(t *testing.T) {
	t.Run("server defaults", func(t *testing.T) {
		opts, err := ServerOptionsFrom(api.StageConfig{})
		require.NoError(t, err)
		assert.Equal(t, defaultHost, opts.Host)
		assert.Equal(t, defaultPort, opts.Port)
		assert.Equal(t, DefaultCommands, opts.Commands)
	})

	t.Run("explicit empty commands forward everything", func(t *testing.T) {
		opts, err := ServerOptionsFrom(api.StageConfig{"commands": []any{}})
		require.NoError(t, err)
		assert.Empty(t, opts.Commands)
	})

	t.Run("client weak typing", func(t *testing.T) {
		opts, err := ClientOptionsFrom(api.StageConfig{
			"host": "10.0.0.2", "port": "9000", "connect_attempts": 0, "connect_backoff": "250ms",
		})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.2", opts.Host)
		assert.Equal(t, 9000, opts.Port)
		assert.Equal(t, 1, opts.ConnectAttempts)
		assert.Equal(t, 250*time.Millisecond, opts.ConnectBackoff)
	})

	t.Run("bad port", func(t *testing.T) {
		_, err := ClientOptionsFrom(api.StageConfig{"port": 70000})
		require.ErrorIs(t, err, api.ErrInvalidConfig)
	})

	t.Run("bad key", func(t *testing.T) {
		_, err := newServerStage(api.StageConfig{"key": "short"})
		require.ErrorIs(t, err, api.ErrInvalidConfig)
	})
}
