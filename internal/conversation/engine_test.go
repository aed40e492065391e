package conversation

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/naobridge/internal/clock"
	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/metrics"
	"github.com/joss/naobridge/internal/robot"
	"github.com/joss/naobridge/internal/robot/sim"
	"github.com/joss/naobridge/internal/vad"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeInference struct {
	mu sync.Mutex

	reply         string
	chatErr       error
	transcript    string
	transcribeErr error

	chats     [][]inference.Message
	languages []string
	audio     []int
}

func (f *fakeInference) Chat(ctx context.Context, messages []inference.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, append([]inference.Message(nil), messages...))
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.reply, nil
}

func (f *fakeInference) Transcribe(ctx context.Context, audio io.Reader, name, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(audio)
	f.audio = append(f.audio, len(data))
	f.languages = append(f.languages, language)
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

type logLines struct {
	mu    sync.Mutex
	lines []string
}

func (l *logLines) add(m string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, m)
}

func (l *logLines) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func testEnv() *config.NaoEnv {
	return &config.NaoEnv{
		APIKey:           "gsk-test",
		Model:            "test-model",
		Language:         "fr",
		RobotIP:          "10.0.0.2",
		RobotPort:        9559,
		RemoteAudioPath:  "/tmp/temp_audio.wav",
		SystemPromptFR:   "prompt-fr",
		SystemPromptEN:   "prompt-en",
		GreetingFR:       "Bonjour! Je suis NAO.",
		GreetingEN:       "Hello! I am NAO.",
		SilenceThreshold: 1100,
		SilenceDuration:  1500 * time.Millisecond,
		MaxRecording:     10 * time.Second,
		Gestures:         true,
	}
}

type harness struct {
	engine  *Engine
	bot     *sim.Robot
	infer   *fakeInference
	env     *config.NaoEnv
	metrics *metrics.Metrics
	logs    *logLines
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		bot:     sim.New(),
		infer:   &fakeInference{reply: "Hi there", transcript: "bonjour"},
		env:     testEnv(),
		metrics: metrics.New(),
		logs:    &logLines{},
	}
	opts := Options{
		Dialer:    h.bot.Dialer(),
		Inference: h.infer,
		Fetcher:   sim.Fetcher{},
		Env:       h.env,
		Clock:     clock.NewFake(time.Unix(1_700_000_000, 0)),
		WorkDir:   t.TempDir(),
		Metrics:   h.metrics,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.engine = New(opts)
	return h
}

func (h *harness) connect(t *testing.T) *Session {
	t.Helper()
	s, err := h.engine.Connect(context.Background(), ConnectParams{}, h.logs.add)
	require.NoError(t, err)
	return s
}

func assertReleased(t *testing.T, bot *sim.Robot) {
	t.Helper()
	for _, g := range robot.GestureGroups {
		assert.Zero(t, bot.Stiffness(g), "group %s still energized", g)
	}
}

func TestHandlersRequireConnection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Listen(ctx, time.Second, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, h.engine.Think(ctx, nil), ErrNotConnected)
	_, err = h.engine.GetResponse(ctx, "hello", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, h.engine.Speak(ctx, "hello", nil), ErrNotConnected)
	_, err = h.engine.SayGreeting(ctx, "", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, h.engine.SetLanguage(ctx, "en", nil), ErrNotConnected)

	assert.Equal(t, StateDisconnected, h.engine.State())
	assert.Empty(t, h.infer.chats)
}

func TestConnect(t *testing.T) {
	h := newHarness(t, nil)

	s := h.connect(t)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "10.0.0.2", s.Host)
	assert.Equal(t, 9559, s.Port)
	assert.Equal(t, "fr", s.Language)
	assert.Empty(t, s.History)
	assert.True(t, s.GesturesEnabled)
	assert.Equal(t, 1100.0, s.SilenceThreshold)
	assert.Equal(t, 1500*time.Millisecond, s.SilenceDuration)
	assert.Equal(t, 10*time.Second, s.MaxRecording)
	assert.Equal(t, StateConnected, h.engine.State())
	assert.Same(t, s, h.engine.Session())

	assert.Equal(t, "French", h.bot.Language())
	assert.Contains(t, h.bot.Calls(), "Dial 10.0.0.2:9559")
	assert.Contains(t, h.bot.Calls(), "SetVolume 0.80")
	assert.True(t, h.logs.contains("OK Connected"))
	assert.True(t, h.logs.contains("test-model"))
	assert.Equal(t, int64(1), h.metrics.LiveSessions.Load())
}

func TestConnectParamsOverrideConfig(t *testing.T) {
	h := newHarness(t, nil)

	s, err := h.engine.Connect(context.Background(), ConnectParams{Host: "192.168.1.9", Port: 9600, Language: "en"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "en", s.Language)
	assert.Equal(t, "English", h.bot.Language())
	assert.Contains(t, h.bot.Calls(), "Dial 192.168.1.9:9600")
}

func TestConnectFailures(t *testing.T) {
	for _, method := range []string{"Dial", "SetLanguage", "SetVolume"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t, nil)
			h.bot.FailOn(method, errors.New("unreachable"))

			s, err := h.engine.Connect(context.Background(), ConnectParams{}, h.logs.add)

			var cerr *ConnectionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "10.0.0.2:9559", cerr.Addr)
			assert.Nil(t, s)
			assert.Nil(t, h.engine.Session())
			assert.Equal(t, StateDisconnected, h.engine.State())
			assert.True(t, h.logs.contains("X Connection error"))
			assert.Equal(t, int64(1), h.metrics.ConnectErrors.Load())
		})
	}
}

func TestConnectWithoutAPIKeyWarns(t *testing.T) {
	h := newHarness(t, nil)
	h.env.APIKey = ""

	h.connect(t)
	assert.True(t, h.logs.contains("GROQ_API_KEY not set"))
}

func TestConnectRejectsUnknownLanguage(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Connect(context.Background(), ConnectParams{Language: "de"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Zero(t, h.bot.CallCount("Dial"))
}

func TestReconnectStartsFreshSession(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(t)
	_, err := h.engine.GetResponse(context.Background(), "hello", nil)
	require.NoError(t, err)

	second := h.connect(t)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, second.History)
	assert.Equal(t, int64(1), h.metrics.LiveSessions.Load())
}

func TestGetResponseRecordsBothTurns(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)

	reply, err := h.engine.GetResponse(context.Background(), "bonjour", h.logs.add)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, []inference.Message{
		{Role: inference.RoleUser, Content: "bonjour"},
		{Role: inference.RoleAssistant, Content: "Hi there"},
	}, s.History)

	require.Len(t, h.infer.chats, 1)
	assert.Equal(t, []inference.Message{
		{Role: inference.RoleSystem, Content: "prompt-fr"},
		{Role: inference.RoleUser, Content: "bonjour"},
	}, h.infer.chats[0])
	assert.Equal(t, StateConnected, h.engine.State())
}

func TestGetResponseFailureKeepsUserTurn(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)
	h.infer.chatErr = &openai.APIError{HTTPStatusCode: 503, Message: "over capacity"}

	_, err := h.engine.GetResponse(context.Background(), "hello", h.logs.add)

	var ierr *InferenceError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 503, ierr.Status)
	assert.Equal(t, "over capacity", ierr.Detail)
	assert.Equal(t, "inference API error code 503", err.Error())

	assert.Equal(t, []inference.Message{{Role: inference.RoleUser, Content: "hello"}}, s.History)
	assert.Equal(t, StateConnected, h.engine.State())
	assert.True(t, h.logs.contains("X LLM API error (code 503)"))

	// The unanswered turn is part of the next prompt.
	h.infer.chatErr = nil
	_, err = h.engine.GetResponse(context.Background(), "again", nil)
	require.NoError(t, err)
	assert.Len(t, h.infer.chats[1], 3)
	assert.Len(t, s.History, 3)
}

func TestGetResponseTransportFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.infer.chatErr = errors.New("dial tcp: connection refused")

	_, err := h.engine.GetResponse(context.Background(), "hello", nil)

	var ierr *InferenceError
	require.ErrorAs(t, err, &ierr)
	assert.Zero(t, ierr.Status)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEndToEndEnglishTurn(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.connect(t)

	require.NoError(t, h.engine.SetLanguage(ctx, "en", nil))
	reply, err := h.engine.GetResponse(ctx, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", reply)
	assert.Equal(t, []inference.Message{
		{Role: inference.RoleUser, Content: "hello"},
		{Role: inference.RoleAssistant, Content: "Hi there"},
	}, s.History)
	assert.Equal(t, "prompt-en", h.infer.chats[0][0].Content)
	assert.Equal(t, "English", h.bot.Language())
}

func TestSetLanguageRejectsUnknown(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)

	err := h.engine.SetLanguage(context.Background(), "de", nil)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Equal(t, "fr", s.Language)
}

func TestSetLanguageSpeechFailureIsCosmetic(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)
	h.bot.FailOn("SetLanguage", errors.New("tts busy"))

	require.NoError(t, h.engine.SetLanguage(context.Background(), "en", nil))
	assert.Equal(t, "en", s.Language)
}

func TestSpeakReleasesJointsDespiteFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.bot.FailOn("SetAngles", errors.New("joint fault"))

	err := h.engine.Speak(context.Background(), "Attention! Pourquoi? Voici la suite.", h.logs.add)

	require.NoError(t, err)
	assertReleased(t, h.bot)
	assert.Equal(t, []string{"Attention", "Pourquoi", "Voici la suite"}, h.bot.Spoken())
	assert.True(t, h.logs.contains(">>> Gesture: emphasis"))
	assert.Equal(t, StateConnected, h.engine.State())
}

func TestSpeakSpeechFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.bot.FailOn("Say", errors.New("tts crashed"))

	require.NoError(t, h.engine.Speak(context.Background(), "Bonjour. Ça va?", h.logs.add))
	assert.True(t, h.logs.contains("X Speech error"))
	assertReleased(t, h.bot)
}

func TestSpeakWithoutGestures(t *testing.T) {
	h := newHarness(t, nil)
	h.env.Gestures = false
	h.connect(t)

	require.NoError(t, h.engine.Speak(context.Background(), "Bonjour! Ça va?", nil))
	assert.Equal(t, []string{"Bonjour! Ça va?"}, h.bot.Spoken())
	assert.Zero(t, h.bot.CallCount("SetAngles"))
}

func TestSayGreeting(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	text, err := h.engine.SayGreeting(context.Background(), "en", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello! I am NAO.", text)
	assert.Equal(t, []string{"Hello", "I am NAO"}, h.bot.Spoken())

	text, err = h.engine.SayGreeting(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour! Je suis NAO.", text)
	assertReleased(t, h.bot)
}

func TestThinkAlwaysSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	require.NoError(t, h.engine.Think(context.Background(), h.logs.add))
	assert.True(t, h.logs.contains(">>> Animation finished"))
	assert.Zero(t, h.bot.Stiffness(robot.GroupRArm))
	assert.Zero(t, h.bot.Stiffness(robot.GroupHead))
	assert.GreaterOrEqual(t, h.bot.CallCount("SetAngles"), 20)

	h.bot.FailOn("SetAngles", errors.New("arm blocked"))
	require.NoError(t, h.engine.Think(context.Background(), h.logs.add))
	assert.True(t, h.logs.contains("X Animation error"))
	assert.Zero(t, h.bot.Stiffness(robot.GroupRArm))
	assert.Zero(t, h.bot.Stiffness(robot.GroupHead))
	assert.Equal(t, StateConnected, h.engine.State())
}

func speech(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 3000
	}
	return out
}

func TestListenUntilSilence(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)
	h.bot.ScriptEnergy(append(speech(10), 200)...)

	res, err := h.engine.Listen(context.Background(), 0, h.logs.add)
	require.NoError(t, err)

	assert.Equal(t, "bonjour", res.Transcription)
	assert.Equal(t, vad.ReasonSilence, res.VAD.Reason)
	assert.Equal(t, []string{"fr"}, h.infer.languages)
	assert.Greater(t, h.infer.audio[0], 44)

	assert.False(t, h.bot.Recording())
	assert.False(t, h.bot.Tracking())
	assert.False(t, s.TrackingActive)
	assert.Zero(t, h.bot.Stiffness(robot.GroupHead))
	assert.Equal(t, uint32(robot.ColorWhite), h.bot.Eyes())
	assert.Equal(t, 2, h.bot.CallCount("PlaySine"))
	assert.Contains(t, h.bot.Calls(), "StartMicrophonesRecording /tmp/temp_audio.wav")

	assert.True(t, h.logs.contains(">>> Silence detected"))
	assert.True(t, h.logs.contains(">>> Speech detected"))
	assert.True(t, h.logs.contains(">>> Face tracking enabled"))
	assert.True(t, h.logs.contains("'bonjour'"))
	assert.Equal(t, int64(1), h.metrics.SilenceStops.Load())
	assert.Equal(t, StateConnected, h.engine.State())
}

func TestListenMaxDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.bot.ScriptEnergy(0)

	res, err := h.engine.Listen(context.Background(), 2*time.Second, h.logs.add)
	require.NoError(t, err)

	assert.Equal(t, vad.ReasonMaxDuration, res.VAD.Reason)
	assert.Equal(t, 2*time.Second, res.VAD.Elapsed)
	assert.True(t, h.logs.contains(">>> Max duration reached"))
}

func TestListenDefaultsToSessionCap(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)
	s.MaxRecording = 3 * time.Second
	h.bot.ScriptEnergy(0)

	res, err := h.engine.Listen(context.Background(), 0, h.logs.add)
	require.NoError(t, err)

	assert.Equal(t, vad.ReasonMaxDuration, res.VAD.Reason)
	assert.Equal(t, 3*time.Second, res.VAD.Elapsed)
}

func TestListenSurvivesCosmeticAndSensorFailures(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)
	h.bot.FailOn("FrontMicEnergy", errors.New("mic glitch"))
	h.bot.FailOn("Track", errors.New("no face"))
	h.bot.FailOn("FadeRGB", errors.New("leds off"))
	h.bot.FailOn("PlaySine", errors.New("speaker off"))

	res, err := h.engine.Listen(context.Background(), time.Second, h.logs.add)
	require.NoError(t, err)

	assert.Equal(t, vad.ReasonMaxDuration, res.VAD.Reason)
	assert.Equal(t, res.VAD.Samples, res.VAD.Failures)
	assert.False(t, s.TrackingActive)
	assert.Zero(t, h.bot.Stiffness(robot.GroupHead))
	assert.True(t, h.logs.contains("X Face tracking error"))
}

func TestListenRecordingFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.bot.FailOn("StartMicrophonesRecording", errors.New("device busy"))

	_, err := h.engine.Listen(context.Background(), time.Second, nil)
	require.Error(t, err)
	assert.Zero(t, h.bot.Stiffness(robot.GroupHead))
	assert.False(t, h.bot.Tracking())
	assert.Empty(t, h.infer.languages)
}

func TestListenRetrievalFailure(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Fetcher = sim.Fetcher{Err: errors.New("ssh refused")} })
	h.connect(t)

	_, err := h.engine.Listen(context.Background(), time.Second, nil)

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "/tmp/temp_audio.wav", rerr.Path)
	assert.Empty(t, h.infer.languages)
	assert.Equal(t, StateConnected, h.engine.State())
}

func TestListenTranscriptionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.infer.transcribeErr = &openai.APIError{HTTPStatusCode: 400, Message: "bad audio"}

	_, err := h.engine.Listen(context.Background(), time.Second, h.logs.add)

	var terr *TranscriptionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 400, terr.Status)
	assert.True(t, h.logs.contains("X Whisper API error (code 400)"))
	assert.Equal(t, int64(1), h.metrics.TranscriptionErrors.Load())
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect(t)
	s.TrackingActive = true

	h.engine.Disconnect(context.Background(), h.logs.add)

	assert.Nil(t, h.engine.Session())
	assert.Equal(t, StateDisconnected, h.engine.State())
	assert.Equal(t, 1, h.bot.CallCount("StopTracker"))
	assertReleased(t, h.bot)
	assert.True(t, h.logs.contains("Disconnected"))
	assert.Zero(t, h.metrics.LiveSessions.Load())

	// Disconnecting again is harmless.
	h.engine.Disconnect(context.Background(), nil)
	assert.Zero(t, h.metrics.LiveSessions.Load())
}
