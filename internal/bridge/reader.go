package bridge

import (
	"sync"

	"github.com/gorilla/websocket"
)

// frameReader reads a connection on its own goroutine so the relay loop
// can poll for frames without blocking. gorilla connections cannot recover
// from a read deadline, so this is the only way to get a non-blocking
// receive.
type frameReader struct {
	frames chan []byte
	done   chan struct{}
	stop   chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func startReader(conn *websocket.Conn, buffer int) *frameReader {
	fr := &frameReader{
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go fr.run(conn)
	return fr
}

func (fr *frameReader) run(conn *websocket.Conn) {
	defer close(fr.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fr.mu.Lock()
			fr.err = err
			fr.mu.Unlock()
			return
		}
		select {
		case fr.frames <- data:
		case <-fr.stop:
			return
		}
	}
}

// TryRead returns a pending frame without blocking. Once the connection
// has failed and every buffered frame was consumed it returns the read
// error.
func (fr *frameReader) TryRead() ([]byte, bool, error) {
	select {
	case data := <-fr.frames:
		return data, true, nil
	default:
	}

	select {
	case <-fr.done:
		// Frames queued just before the failure still win.
		select {
		case data := <-fr.frames:
			return data, true, nil
		default:
		}
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return nil, false, fr.err
	default:
		return nil, false, nil
	}
}

// Stop releases a reader blocked on a full buffer.
func (fr *frameReader) Stop() {
	fr.stopOnce.Do(func() { close(fr.stop) })
}

// Done is closed when the reader goroutine has returned.
func (fr *frameReader) Done() <-chan struct{} { return fr.done }
