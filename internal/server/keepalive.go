package server

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// keepaliveConn pushes the read deadline forward on every frame and every
// pong, so a peer that neither sends nor answers pings for interval+timeout
// is dropped with a read error.
type keepaliveConn struct {
	*websocket.Conn

	interval time.Duration
	timeout  time.Duration
}

func newKeepaliveConn(conn *websocket.Conn, interval, timeout time.Duration) *keepaliveConn {
	k := &keepaliveConn{Conn: conn, interval: interval, timeout: timeout}
	_ = conn.SetReadDeadline(time.Now().Add(k.idleLimit()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(k.idleLimit()))
	})
	return k
}

func (k *keepaliveConn) idleLimit() time.Duration {
	return k.interval + k.timeout
}

func (k *keepaliveConn) ReadMessage() (int, []byte, error) {
	messageType, data, err := k.Conn.ReadMessage()
	if err == nil {
		_ = k.Conn.SetReadDeadline(time.Now().Add(k.idleLimit()))
	}
	return messageType, data, err
}

// startPinger sends a ping every interval until the returned stop function
// is called or a ping cannot be written.
func (k *keepaliveConn) startPinger(logger *zap.Logger) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := k.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(k.timeout))
				if err != nil {
					if !errors.Is(err, websocket.ErrCloseSent) {
						logger.Debug("keep-alive ping failed", zap.Error(err))
					}
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}
