package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/metrics"
)

// LogFunc streams one log envelope to the supervisor.
type LogFunc func(message string)

// Handler executes one command. The returned data becomes the terminal
// envelope's data on success; an error becomes data.error with success false.
type Handler func(ctx context.Context, params json.RawMessage, log LogFunc) (Data, error)

// Server runs the command loop for one channel. Commands are executed one
// at a time, in order.
type Server struct {
	enc      *Encoder
	dec      *Decoder
	handlers map[string]Handler
	recovery *logging.RecoveryHandler
	metrics  *metrics.Metrics
	log      *logging.Logger

	// ReadyMessage is sent in the ready envelope.
	ReadyMessage string
}

// NewServer creates a server reading commands from r and writing to w.
func NewServer(r io.Reader, w io.Writer) *Server {
	return NewChannelServer(NewDecoder(r), NewEncoder(w))
}

// NewStdioServer creates a server on stdin/stdout.
func NewStdioServer() *Server {
	return NewServer(os.Stdin, os.Stdout)
}

// NewChannelServer creates a server on an existing codec pair.
func NewChannelServer(dec *Decoder, enc *Encoder) *Server {
	return &Server{
		enc:          enc,
		dec:          dec,
		handlers:     make(map[string]Handler),
		recovery:     logging.NewRecoveryHandler("protocol"),
		metrics:      metrics.Global(),
		log:          logging.New("protocol"),
		ReadyMessage: "NAO bridge ready",
	}
}

// Handle registers the handler for an action. Reserved actions are rejected.
func (s *Server) Handle(action string, h Handler) {
	switch action {
	case ActionReady, ActionLog, ActionError, ActionQuit, "":
		panic(fmt.Sprintf("protocol: reserved action %q", action))
	}
	s.handlers[action] = h
}

// SetMetrics replaces the metrics sink.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Run announces readiness, then serves commands until EOF, quit or ctx
// cancellation. quit runs the disconnect handler before returning; without
// one it answers with a bare quit envelope.
func (s *Server) Run(ctx context.Context) error {
	if err := s.enc.Encode(NewResponse(ActionReady, true, Data{"message": s.ReadyMessage}, nil)); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd, err := s.dec.DecodeCommand()
		if err == io.EOF {
			return nil // Supervisor closed the channel
		}
		var perr *ProtocolError
		if errors.As(err, &perr) {
			msg := "invalid JSON"
			if errors.Is(perr, ErrLineTooLong) {
				msg = ErrLineTooLong.Error()
			}
			s.reject(perr, msg)
			continue
		}
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}

		if cmd.Action == ActionQuit {
			if _, ok := s.handlers[ActionDisconnect]; ok {
				s.dispatch(ctx, &Command{Action: ActionDisconnect})
			} else if werr := s.enc.Encode(NewResponse(ActionQuit, true, nil, nil)); werr != nil {
				s.log.Error("write_failed", nil, werr)
			}
			return nil
		}

		if _, ok := s.handlers[cmd.Action]; !ok {
			s.reject(fmt.Errorf("unknown action: %s", cmd.Action), "unknown action: "+cmd.Action)
			continue
		}
		s.dispatch(ctx, cmd)
	}
}

func (s *Server) reject(err error, message string) {
	s.metrics.RecordProtocolError()
	s.log.Warn("command_rejected", nil, err)
	if werr := s.enc.Encode(NewResponse(ActionError, false, Data{"error": message}, nil)); werr != nil {
		s.log.Error("write_failed", nil, werr)
	}
}

// dispatch runs one handler and writes its terminal envelope. A panicking
// handler yields an error envelope and the loop continues.
func (s *Server) dispatch(ctx context.Context, cmd *Command) {
	h := s.handlers[cmd.Action]
	l := s.log.WithCommand(uuid.NewString())
	start := time.Now()

	var (
		logsMu sync.Mutex
		logs   []string
	)
	emit := func(message string) {
		logsMu.Lock()
		logs = append(logs, message)
		logsMu.Unlock()
		if err := s.enc.Encode(NewLog(message)); err != nil {
			l.Warn("write_failed", nil, err)
		}
	}

	var (
		data     Data
		finished bool
	)
	err := s.recovery.WrapError(func() error {
		var herr error
		data, herr = h(ctx, cmd.Params, emit)
		finished = true
		return herr
	})

	logsMu.Lock()
	defer logsMu.Unlock()
	var env *Envelope
	switch {
	case !finished:
		env = Failure(ActionError, err, logs)
	case err != nil:
		env = Failure(cmd.Action, err, logs)
	default:
		env = NewResponse(cmd.Action, true, data, logs)
	}
	s.metrics.RecordCommand(env.Success)
	l.TimedEvent("command", start, map[string]interface{}{"action": cmd.Action, "success": env.Success})

	if werr := s.enc.Encode(env); werr != nil {
		l.Error("write_failed", nil, werr)
	}
}
