package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Sentinel is the text frame that ends an upload. It is matched exactly.
	Sentinel = "DONE"

	DefaultMaxUploadBytes = 50 << 20
	DefaultCloseGrace     = time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

type State int

const (
	StateReceiving State = iota
	StateDecoding
	StateTranscribing
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "receiving"
	case StateDecoding:
		return "decoding"
	case StateTranscribing:
		return "transcribing"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Outcome int

const (
	// OutcomeTranscribed: a transcript was produced and a send was attempted.
	OutcomeTranscribed Outcome = iota
	// OutcomeFailed: an error payload was produced and a send was attempted.
	OutcomeFailed
	// OutcomeAbandoned: the peer went away; nothing was sent.
	OutcomeAbandoned
	// OutcomeRejected: the upload broke the size limit; closed with 1009.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTranscribed:
		return "transcribed"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Conn is the subset of *websocket.Conn a session drives. ReadMessage is
// only ever called from one goroutine at a time, and so is WriteMessage.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Config struct {
	MaxUploadBytes int64
	CloseGrace     time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: DefaultMaxUploadBytes,
		CloseGrace:     DefaultCloseGrace,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// Result summarises a finished session for logging and metrics.
type Result struct {
	Outcome       Outcome
	Err           error
	SendErr       error
	BytesReceived int
	AudioDuration time.Duration
	DecodeTime    time.Duration
	InferenceTime time.Duration
}

type Session struct {
	ID string

	conn     Conn
	pipeline *Pipeline
	cfg      Config
	logger   *zap.Logger

	state State
	buf   []byte
}

func New(conn Conn, pipeline *Pipeline, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	id := uuid.NewString()
	return &Session{
		ID:       id,
		conn:     conn,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger.With(zap.String("session", id)),
		state:    StateReceiving,
	}
}

func (s *Session) State() State {
	return s.state
}

// Run drives the session from the first frame to connection close. It
// returns once the connection is closed and every goroutine it started has
// exited.
func (s *Session) Run(ctx context.Context) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.release()

	s.logger.Info("client connected, waiting for upload")

	blob, err := s.receive()
	result := Result{BytesReceived: len(blob)}
	if err != nil {
		result.Err = err
		if errors.Is(err, ErrUploadTooLarge) {
			result.Outcome = OutcomeRejected
			s.reject(err)
			return result
		}
		result.Outcome = OutcomeAbandoned
		s.logger.Info("client disconnected before upload completed", zap.Int("bytes", len(s.buf)), zap.Error(err))
		s.transition(StateClosed)
		_ = s.conn.Close()
		return result
	}

	s.logger.Info("upload complete", zap.Int("bytes", len(blob)))
	watcher := s.watch(cancel)

	resp := s.process(ctx, blob, &result)
	if ctx.Err() != nil {
		result.Outcome = OutcomeAbandoned
		if result.Err == nil {
			result.Err = classify(ErrTransport, ctx.Err())
		}
		s.logger.Info("client disconnected during processing; dropping response", zap.Error(result.Err))
		s.transition(StateClosed)
		_ = s.conn.Close()
		<-watcher
		return result
	}

	if resp.Failed() {
		result.Outcome = OutcomeFailed
	} else {
		result.Outcome = OutcomeTranscribed
	}

	s.transition(StateResponding)
	result.SendErr = s.respond(resp)
	s.closeGracefully(watcher)
	return result
}

func (s *Session) receive() ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return s.buf, classify(ErrUploadTooLarge, err)
			}
			return s.buf, classify(ErrTransport, err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			if int64(len(s.buf))+int64(len(data)) > s.cfg.MaxUploadBytes {
				return s.buf, classify(ErrUploadTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			}
			s.buf = append(s.buf, data...)
		case websocket.TextMessage:
			if string(data) == Sentinel {
				s.transition(StateDecoding)
				return s.buf, nil
			}
			s.logger.Debug("ignoring text frame before sentinel", zap.Int("length", len(data)))
		}
	}
}

// watch keeps reading after the sentinel so keep-alive pongs and close
// frames are processed. Late frames are dropped. A read error means the peer
// is gone and cancels in-flight work.
func (s *Session) watch(cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, data, err := s.conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			s.logger.Debug("ignoring frame after sentinel", zap.Int("type", messageType), zap.Int("length", len(data)))
		}
	}()
	return done
}

func (s *Session) process(ctx context.Context, blob []byte, result *Result) Response {
	started := time.Now()
	waveform, err := s.pipeline.Decode(ctx, blob)
	result.DecodeTime = time.Since(started)
	if err != nil {
		result.Err = err
		s.logger.Warn("decode failed", zap.Error(err))
		return ErrorResponse(err.Error())
	}

	result.AudioDuration = waveform.Duration()
	s.logger.Info("audio decoded", zap.Duration("audio", waveform.Duration()), zap.Duration("elapsed", result.DecodeTime))

	s.transition(StateTranscribing)
	started = time.Now()
	text, err := s.pipeline.Transcribe(ctx, waveform)
	result.InferenceTime = time.Since(started)
	if err != nil {
		result.Err = err
		return ErrorResponse(err.Error())
	}

	s.logger.Info("transcript ready", zap.Int("chars", len(text)), zap.Duration("elapsed", result.InferenceTime))
	return TextResponse(text)
}

func (s *Session) respond(resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return classify(ErrSend, err)
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debug("failed to send response; peer already gone", zap.Error(err))
		return classify(ErrSend, err)
	}
	return nil
}

func (s *Session) closeGracefully(watcher <-chan struct{}) {
	s.transition(StateClosed)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.logger.Debug("failed to send close frame", zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.CloseGrace)
	defer timer.Stop()
	select {
	case <-watcher:
	case <-timer.C:
	}

	_ = s.conn.Close()
	<-watcher
}

func (s *Session) reject(err error) {
	s.logger.Warn("rejecting upload", zap.Int64("limit_bytes", s.cfg.MaxUploadBytes), zap.Error(err))
	s.transition(StateClosed)

	// The transport already sent 1009 when a single frame broke its read limit.
	if !errors.Is(err, websocket.ErrReadLimit) {
		msg := websocket.FormatCloseMessage(websocket.CloseMessageTooBig, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout)); werr != nil {
			s.logger.Debug("failed to send close frame", zap.Error(werr))
		}
	}
	_ = s.conn.Close()
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
}

func (s *Session) release() {
	s.buf = nil
	s.state = StateClosed
}
