// Package protocol implements the bridge protocol: newline-delimited JSON
// over a duplex text channel (stdin/stdout or a websocket).
//
// The supervisor writes one command per line:
//
//	{"action": "speak", "params": {"text": "Bonjour!"}}
//
// The bridge answers each command with zero or more log envelopes followed
// by exactly one terminal envelope whose action echoes the command:
//
//	{"action": "log", "success": true, "data": {"message": ">>> NAO says: 'Bonjour!'"}, "logs": [">>> NAO says: 'Bonjour!'"]}
//	{"action": "speak", "success": true, "data": {}, "logs": [...]}
//
// A ready envelope is written once on startup, before any command is read.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Reserved actions.
const (
	ActionReady      = "ready"
	ActionLog        = "log"
	ActionError      = "error"
	ActionQuit       = "quit"
	ActionDisconnect = "disconnect"
)

// Command is one request line.
type Command struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Data is the free-form payload of an envelope.
type Data map[string]any

// Envelope is one response or log line.
type Envelope struct {
	Action  string   `json:"action"`
	Success bool     `json:"success"`
	Data    Data     `json:"data"`
	Logs    []string `json:"logs"`
}

// NewResponse creates a terminal envelope. Nil data and logs encode as {} and [].
func NewResponse(action string, success bool, data Data, logs []string) *Envelope {
	if data == nil {
		data = Data{}
	}
	if logs == nil {
		logs = []string{}
	}
	return &Envelope{Action: action, Success: success, Data: data, Logs: logs}
}

// NewLog creates a log envelope carrying message.
func NewLog(message string) *Envelope {
	return &Envelope{
		Action:  ActionLog,
		Success: true,
		Data:    Data{"message": message},
		Logs:    []string{message},
	}
}

// Failure creates an unsuccessful terminal envelope with data.error set.
func Failure(action string, err error, logs []string) *Envelope {
	return NewResponse(action, false, Data{"error": err.Error()}, logs)
}

// IsLog reports whether e is a log line rather than a terminal response.
func (e *Envelope) IsLog() bool {
	return e.Action == ActionLog
}

// Message returns data.message, or "".
func (e *Envelope) Message() string {
	return e.String("message")
}

// Error returns data.error, or "".
func (e *Envelope) Error() string {
	return e.String("error")
}

// String returns a string field of Data, or "".
func (e *Envelope) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// ProtocolError is a line that is not a valid command.
type ProtocolError struct {
	Line []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	if errors.Is(e.Err, ErrLineTooLong) {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid JSON: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Encoder/Decoder for streaming JSON lines
// ─────────────────────────────────────────────────────────────────────────────

// LineWriter is the output side of a channel: one call per line, without
// the trailing newline.
type LineWriter interface {
	WriteLine(line []byte) error
}

type ioLineWriter struct {
	w io.Writer
}

func (l ioLineWriter) WriteLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := l.w.Write(buf); err != nil {
		return err
	}
	if f, ok := l.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Encoder writes envelopes as JSON lines. It is safe for concurrent use so
// logs and responses never interleave within a line.
type Encoder struct {
	w  LineWriter
	mu sync.Mutex
}

// NewEncoder creates an encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: ioLineWriter{w: w}}
}

// NewLineEncoder creates an encoder for a line-oriented transport.
func NewLineEncoder(w LineWriter) *Encoder {
	return &Encoder{w: w}
}

// Encode writes an envelope as a single JSON line.
func (e *Encoder) Encode(env *Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return e.w.WriteLine(data)
}

// Command writes a request line.
func (e *Encoder) Command(action string, params any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := struct {
		Action string `json:"action"`
		Params any    `json:"params"`
	}{Action: action, Params: params}
	if cmd.Params == nil {
		cmd.Params = struct{}{}
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return e.w.WriteLine(data)
}

// LineReader is the input side of a channel. It returns io.EOF when the
// peer has gone.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// MaxLineSize bounds one protocol line.
const MaxLineSize = 1024 * 1024

// ErrLineTooLong marks a line dropped for exceeding MaxLineSize.
var ErrLineTooLong = errors.New("line too long")

type bufferedReader struct {
	r *bufio.Reader
}

// ReadLine returns the next line. An oversized line is consumed up to its
// newline and reported as a *ProtocolError so the stream stays usable.
func (b bufferedReader) ReadLine() ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := b.r.ReadLine()
		if err != nil {
			if err == io.EOF && tooLong {
				break
			}
			return nil, err
		}
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > MaxLineSize {
				tooLong, line = true, nil
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return nil, &ProtocolError{Err: ErrLineTooLong}
	}
	return line, nil
}

// Decoder reads JSON lines.
type Decoder struct {
	r LineReader
}

// NewDecoder creates a decoder for the given reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufferedReader{r: bufio.NewReaderSize(r, 64*1024)}}
}

// NewLineDecoder creates a decoder for a line-oriented transport.
func NewLineDecoder(r LineReader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) next() ([]byte, error) {
	for {
		line, err := d.r.ReadLine()
		if err != nil {
			return nil, err
		}
		if line = bytes.TrimSpace(line); len(line) > 0 {
			return line, nil
		}
	}
}

// DecodeCommand reads the next command. Blank lines are skipped. A line
// that is not a JSON object yields a *ProtocolError; the stream stays usable.
func (d *Decoder) DecodeCommand() (*Command, error) {
	line, err := d.next()
	if err != nil {
		return nil, err
	}
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, &ProtocolError{Line: append([]byte(nil), line...), Err: err}
	}
	return &cmd, nil
}

// Decode reads the next envelope.
func (d *Decoder) Decode() (*Envelope, error) {
	line, err := d.next()
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// DecodeParams unmarshals command params into target. Missing or null
// params leave target untouched.
func DecodeParams(raw json.RawMessage, target any) error {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
