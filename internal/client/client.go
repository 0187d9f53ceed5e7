package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fmueller/voxrelay/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize    = 64 * 1024
	DefaultWriteTimeout = 30 * time.Second
)

// ServerError is a transcription failure reported by the server in an
// {"error": ...} payload.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

var ErrNoResponse = errors.New("server closed the connection without a response")

type Client struct {
	Dialer       *websocket.Dialer
	ChunkSize    int
	WriteTimeout time.Duration
	// Progress receives every chunk after it was sent. A progress bar fits.
	Progress io.Writer
	Logger   *zap.Logger
}

func New(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Dialer:       websocket.DefaultDialer,
		ChunkSize:    DefaultChunkSize,
		WriteTimeout: DefaultWriteTimeout,
		Logger:       logger,
	}
}

// Upload streams r to the transcription endpoint at url as binary frames,
// sends the sentinel and waits for the single response.
func (c *Client) Upload(ctx context.Context, url string, r io.Reader) (string, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sent, err := c.send(conn, r)
	if err != nil {
		return "", c.ctxErr(ctx, err)
	}
	c.log().Debug("upload sent", zap.String("url", url), zap.Int64("bytes", sent))

	text, err := c.receive(conn)
	if err != nil {
		return "", c.ctxErr(ctx, err)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return text, nil
}

func (c *Client) send(conn *websocket.Conn, r io.Reader) (int64, error) {
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := c.write(conn, websocket.BinaryMessage, buf[:n]); err != nil {
				return sent, fmt.Errorf("send audio chunk: %w", err)
			}
			sent += int64(n)
			if c.Progress != nil {
				_, _ = c.Progress.Write(buf[:n])
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return sent, fmt.Errorf("read input: %w", readErr)
		}
	}

	if err := c.write(conn, websocket.TextMessage, []byte(session.Sentinel)); err != nil {
		return sent, fmt.Errorf("send end of upload: %w", err)
	}
	return sent, nil
}

func (c *Client) write(conn *websocket.Conn, messageType int, data []byte) error {
	timeout := c.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) receive(conn *websocket.Conn) (string, error) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code == websocket.CloseMessageTooBig {
					return "", fmt.Errorf("upload rejected: %s", closeErr.Text)
				}
				return "", fmt.Errorf("%w (close code %d)", ErrNoResponse, closeErr.Code)
			}
			return "", fmt.Errorf("read response: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		resp, err := session.ParseResponse(data)
		if err != nil {
			return "", err
		}
		if resp.Failed() {
			return "", &ServerError{Message: resp.Error}
		}
		return resp.Text, nil
	}
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("upload cancelled: %w", ctxErr)
	}
	return err
}

func (c *Client) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
