package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	messageType int
	data        []byte
}

// fakeConn feeds queued frames to the session and records what it writes.
// Closing inbound simulates the peer going away.
type fakeConn struct {
	inbound chan frame

	mu       sync.Mutex
	written  []frame
	controls []frame
	writeErr error
	closed   bool

	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeConn(frames ...frame) *fakeConn {
	c := &fakeConn{
		inbound:  make(chan frame, len(frames)+8),
		closedCh: make(chan struct{}),
	}
	for _, f := range frames {
		c.inbound <- f
	}
	return c
}

func binaryFrame(data string) frame {
	return frame{messageType: websocket.BinaryMessage, data: []byte(data)}
}

func textFrame(data string) frame {
	return frame{messageType: websocket.TextMessage, data: []byte(data)}
}

func (c *fakeConn) disconnect() {
	close(c.inbound)
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.inbound:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}
		}
		return f.messageType, f.data, nil
	case <-c.closedCh:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, frame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, frame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closedCh)
	})
	return nil
}

func (c *fakeConn) writtenFrames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.written...)
}

func (c *fakeConn) controlFrames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.controls...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
