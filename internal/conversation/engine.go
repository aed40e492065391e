// Package conversation holds the single robot session and the turn
// handlers driven by the bridge: connect, listen, think, get_response,
// speak, say_greeting, set_language and disconnect.
package conversation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/naobridge/internal/clock"
	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/gesture"
	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/metrics"
	"github.com/joss/naobridge/internal/retrieval"
	"github.com/joss/naobridge/internal/robot"
)

// LogFunc receives operator-facing progress lines for the current command.
type LogFunc func(message string)

// Speech settings applied at connect.
const speechVolume = 0.8

// Options wires an Engine to its collaborators.
type Options struct {
	Dialer    robot.Dialer
	Inference inference.Service
	Fetcher   retrieval.Fetcher
	Env       *config.NaoEnv
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// WorkDir receives downloaded recordings; defaults to os.TempDir().
	WorkDir string
	Metrics *metrics.Metrics
}

// Engine owns at most one Session. Commands are serialized: a handler runs
// to completion before the next one starts.
type Engine struct {
	dialer  robot.Dialer
	infer   inference.Service
	fetcher retrieval.Fetcher
	env     *config.NaoEnv
	clock   clock.Clock
	workDir string
	metrics *metrics.Metrics

	mu      sync.Mutex
	session *Session
	state   atomic.Value

	log *logging.Logger
}

// New returns a disconnected engine.
func New(opts Options) *Engine {
	e := &Engine{
		dialer:  opts.Dialer,
		infer:   opts.Inference,
		fetcher: opts.Fetcher,
		env:     opts.Env,
		clock:   opts.Clock,
		workDir: opts.WorkDir,
		metrics: opts.Metrics,
		log:     logging.New("conversation"),
	}
	if e.env == nil {
		e.env = config.Env()
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.workDir == "" {
		e.workDir = os.TempDir()
	}
	if e.metrics == nil {
		e.metrics = metrics.Global()
	}
	e.state.Store(StateDisconnected)
	return e
}

// State reports where the engine is in the turn cycle.
func (e *Engine) State() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(s State) {
	e.state.Store(s)
}

// enter marks a busy state and returns the function that restores connected.
func (e *Engine) enter(s State) func() {
	e.setState(s)
	return func() {
		if e.session != nil {
			e.setState(StateConnected)
		}
	}
}

// Session returns the live session, or nil. The returned value must not be
// used while a command is running.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) require() (*Session, error) {
	if e.session == nil {
		return nil, ErrNotConnected
	}
	return e.session, nil
}

// cosmetic runs a best-effort actuation. Failures are logged and swallowed.
func (e *Engine) cosmetic(op string, fn func() error) bool {
	return logging.Attempt(e.sessionLog(), op, func() error {
		if err := fn(); err != nil {
			return &ActuationError{Op: op, Err: err}
		}
		return nil
	})
}

func (e *Engine) sessionLog() *logging.Logger {
	if e.session == nil {
		return e.log
	}
	return e.log.WithSession(e.session.ID)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	_ = e.clock.Sleep(ctx, d)
}

func emitter(log LogFunc) LogFunc {
	if log == nil {
		return func(string) {}
	}
	return log
}

// ConnectParams are the connect command parameters. Zero values fall back
// to configuration.
type ConnectParams struct {
	Host     string
	Port     int
	Language string
}

// Connect dials the robot, configures speech and starts a fresh session.
// A live session is torn down first.
func (e *Engine) Connect(ctx context.Context, p ConnectParams, log LogFunc) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	emit := emitter(log)

	if p.Host == "" {
		p.Host = e.env.RobotIP
	}
	if p.Port == 0 {
		p.Port = e.env.RobotPort
	}
	if p.Language == "" {
		p.Language = e.env.Language
	}
	if !validLanguage(p.Language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, p.Language)
	}

	if e.session != nil {
		e.teardown(ctx)
	}

	addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
	emit(fmt.Sprintf("Connecting to NAO at %s...", addr))

	h, err := e.dial(ctx, p.Host, p.Port, p.Language)
	if err != nil {
		e.metrics.RecordConnect(false)
		cerr := &ConnectionError{Addr: addr, Err: err}
		emit("X Connection error: " + err.Error())
		e.log.Error("connect_failed", map[string]interface{}{"addr": addr}, cerr)
		return nil, cerr
	}
	emit("OK Language configured: " + robot.TTSLanguage(p.Language))

	s := newSession(p.Host, p.Port, p.Language, h, e.clock.Now())
	s.GesturesEnabled = e.env.Gestures
	s.SilenceThreshold = e.env.SilenceThreshold
	s.SilenceDuration = e.env.SilenceDuration
	s.MaxRecording = e.env.MaxRecording
	s.speaker = gesture.NewSequencer(h.Speech, h.Motion)
	s.speaker.Clock = e.clock
	e.session = s
	e.setState(StateConnected)
	e.metrics.RecordConnect(true)

	emit("OK Connected")
	if e.env.HasAPIKey() {
		emit(fmt.Sprintf("OK Inference configured (model: %s)", e.env.Model))
	} else {
		emit("WARNING: GROQ_API_KEY not set, inference calls will fail")
		e.sessionLog().Warn("missing_api_key", nil, nil)
	}
	e.sessionLog().Info("connected", map[string]interface{}{"addr": addr, "language": p.Language})
	return s, nil
}

func (e *Engine) dial(ctx context.Context, host string, port int, lang string) (*robot.Handles, error) {
	if e.dialer == nil {
		return nil, fmt.Errorf("no robot dialer configured")
	}
	h, err := e.dialer.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := h.Speech.SetLanguage(ctx, robot.TTSLanguage(lang)); err != nil {
		return nil, fmt.Errorf("set speech language: %w", err)
	}
	if err := h.Speech.SetVolume(ctx, speechVolume); err != nil {
		return nil, fmt.Errorf("set speech volume: %w", err)
	}
	return h, nil
}

// Disconnect releases tracking and joint stiffness, then drops the
// session. It always succeeds.
func (e *Engine) Disconnect(ctx context.Context, log LogFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.teardown(ctx)
	}
	emitter(log)(">>> Disconnected from robot")
}

func (e *Engine) teardown(ctx context.Context) {
	s := e.session
	if s.TrackingActive {
		e.cosmetic("stop tracker", func() error { return s.robot.Tracker.StopTracker(ctx) })
		e.cosmetic("unregister targets", func() error { return s.robot.Tracker.UnregisterAllTargets(ctx) })
		s.TrackingActive = false
	}
	gesture.Release(ctx, s.robot.Motion, e.sessionLog())
	e.sessionLog().Info("disconnected", map[string]interface{}{"turns": len(s.History)})

	e.session = nil
	e.setState(StateDisconnected)
	e.metrics.RecordDisconnect()
}

// SetLanguage switches the session language. The speech engine language is
// updated best-effort.
func (e *Engine) SetLanguage(ctx context.Context, lang string, log LogFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.require()
	if err != nil {
		return err
	}
	if !validLanguage(lang) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	s.Language = lang

	tts := robot.TTSLanguage(lang)
	e.cosmetic("set speech language", func() error { return s.robot.Speech.SetLanguage(ctx, tts) })
	emitter(log)("OK Language changed: " + tts)
	return nil
}

// GetResponse records the user turn, asks the inference service for a
// reply and records it. On failure the user turn stays in history.
func (e *Engine) GetResponse(ctx context.Context, text string, log LogFunc) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	emit := emitter(log)

	s, err := e.require()
	if err != nil {
		return "", err
	}
	defer e.enter(StateThinking)()

	emit(fmt.Sprintf(">>> Sending to LLM: '%s'", text))
	emit(">>> Language: " + s.Language)

	s.History = append(s.History, inference.Message{Role: inference.RoleUser, Content: text})
	messages := s.messages(e.env.SystemPrompt(s.Language))

	start := time.Now()
	reply, err := e.chat(ctx, messages)
	e.metrics.RecordCompletion(err == nil, time.Since(start).Milliseconds())
	if err != nil {
		status, detail := inference.Describe(err)
		ierr := &InferenceError{Status: status, Detail: detail, Err: err}
		emit(fmt.Sprintf("X LLM API error (code %d): %s", status, truncate(detail, 200)))
		e.sessionLog().Error("inference_failed", map[string]interface{}{"status": status}, ierr)
		return "", ierr
	}

	s.History = append(s.History, inference.Message{Role: inference.RoleAssistant, Content: reply})
	emit(">>> LLM reply received")
	e.sessionLog().TimedEvent("reply", start, map[string]interface{}{"history": len(s.History)})
	return reply, nil
}

func (e *Engine) chat(ctx context.Context, messages []inference.Message) (string, error) {
	if e.infer == nil {
		return "", fmt.Errorf("no inference service configured")
	}
	return e.infer.Chat(ctx, messages)
}

// Speak plays text through the gesture sequencer. Speech and gesture
// failures are logged; Speak only fails when no session is live.
func (e *Engine) Speak(ctx context.Context, text string, log LogFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	emit := emitter(log)

	s, err := e.require()
	if err != nil {
		return err
	}
	defer e.enter(StateSpeaking)()

	emit(fmt.Sprintf(">>> NAO says: '%s'", text))
	if err := e.say(ctx, s, text, emit); err != nil {
		emit("X Speech error: " + err.Error())
		e.sessionLog().Warn("speak_failed", nil, err)
	}
	return nil
}

func (e *Engine) say(ctx context.Context, s *Session, text string, emit LogFunc) error {
	s.speaker.Log = gesture.LogFunc(emit)
	defer func() { s.speaker.Log = nil }()
	return s.speaker.Speak(ctx, text, s.GesturesEnabled)
}

// SayGreeting speaks the configured greeting for lang, or for the session
// language when lang is empty, and returns the text.
func (e *Engine) SayGreeting(ctx context.Context, lang string, log LogFunc) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	emit := emitter(log)

	s, err := e.require()
	if err != nil {
		return "", err
	}
	defer e.enter(StateSpeaking)()

	if lang == "" {
		lang = s.Language
	}
	if !validLanguage(lang) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	text := e.env.Greeting(lang)
	if err := e.say(ctx, s, text, emit); err != nil {
		emit("X Greeting error: " + err.Error())
		return "", err
	}
	return text, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
