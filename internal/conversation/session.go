package conversation

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/naobridge/internal/gesture"
	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/robot"
)

// State is the engine's position in the turn cycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateListening    State = "listening"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
)

// Languages accepted by connect and set_language.
const (
	LangFR = "fr"
	LangEN = "en"
)

func validLanguage(lang string) bool {
	return lang == LangFR || lang == LangEN
}

// Session is the live state for one connected robot. It is only touched by
// the command currently executing.
type Session struct {
	ID          string
	Host        string
	Port        int
	Language    string
	ConnectedAt time.Time

	// History holds user and assistant turns, oldest first. The system
	// prompt is not stored.
	History []inference.Message

	TrackingActive   bool
	GesturesEnabled  bool
	SilenceThreshold float64
	SilenceDuration  time.Duration
	// MaxRecording caps a listen that does not ask for a shorter window.
	MaxRecording time.Duration

	robot   *robot.Handles
	speaker *gesture.Sequencer
}

func newSession(host string, port int, lang string, h *robot.Handles, now time.Time) *Session {
	return &Session{
		ID:          ulid.Make().String(),
		Host:        host,
		Port:        port,
		Language:    lang,
		ConnectedAt: now,
		History:     []inference.Message{},
		robot:       h,
	}
}

// HistoryLen returns the number of recorded turns.
func (s *Session) HistoryLen() int {
	return len(s.History)
}

// messages builds the chat request: system prompt followed by history.
func (s *Session) messages(systemPrompt string) []inference.Message {
	out := make([]inference.Message, 0, len(s.History)+1)
	out = append(out, inference.Message{Role: inference.RoleSystem, Content: systemPrompt})
	return append(out, s.History...)
}
