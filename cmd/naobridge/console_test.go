package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/naobridge/internal/clock"
	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/conversation"
	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/metrics"
	"github.com/joss/naobridge/internal/protocol"
	"github.com/joss/naobridge/internal/render"
	"github.com/joss/naobridge/internal/robot/sim"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type scriptedInference struct {
	reply      string
	chatErr    error
	transcript string
}

func (s *scriptedInference) Chat(ctx context.Context, messages []inference.Message) (string, error) {
	return s.reply, s.chatErr
}

func (s *scriptedInference) Transcribe(ctx context.Context, audio io.Reader, name, language string) (string, error) {
	return s.transcript, nil
}

type consoleRig struct {
	bot    *sim.Robot
	infer  *scriptedInference
	out    bytes.Buffer
	done   chan error
	engine *conversation.Engine
}

// startConsole runs a bridge on pipes and returns a console attached to it.
func startConsole(t *testing.T, infer *scriptedInference) (*console, *consoleRig) {
	t.Helper()
	rig := &consoleRig{bot: sim.New(), infer: infer, done: make(chan error, 1)}
	rig.bot.ScriptEnergy(0)
	rig.engine = conversation.New(conversation.Options{
		Dialer:    rig.bot.Dialer(),
		Inference: infer,
		Fetcher:   sim.Fetcher{},
		Env: &config.NaoEnv{
			Language:         "fr",
			RobotIP:          "10.0.0.2",
			RobotPort:        9559,
			RemoteAudioPath:  "/tmp/temp_audio.wav",
			GreetingFR:       "Bonjour!",
			GreetingEN:       "Hello!",
			SilenceThreshold: 1100,
			SilenceDuration:  1500 * time.Millisecond,
			MaxRecording:     time.Second,
		},
		Clock:   clock.NewFake(time.Unix(0, 0)),
		WorkDir: t.TempDir(),
		Metrics: metrics.New(),
	})

	cmdR, cmdW := io.Pipe()
	envR, envW := io.Pipe()
	srv := protocol.NewServer(cmdR, envW)
	srv.SetMetrics(metrics.New())
	rig.engine.Register(srv)
	go func() {
		rig.done <- srv.Run(context.Background())
		envW.Close()
	}()
	t.Cleanup(func() { cmdW.Close() })

	c := newConsole(protocol.NewClient(envR, cmdW), render.NewWriter(&rig.out, false), consoleOptions{language: "fr", maxDuration: 1})
	return c, rig
}

func (r *consoleRig) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestConsoleTextTurn(t *testing.T) {
	c, rig := startConsole(t, &scriptedInference{reply: "Il fait beau."})

	require.NoError(t, c.start())
	c.loop(strings.NewReader("Quel temps fait-il?\n/quit\n"), false)
	c.quit()
	rig.waitStopped(t)

	out := rig.out.String()
	assert.Contains(t, out, "OK NAO bridge ready")
	assert.Contains(t, out, "NAO: Bonjour!")
	assert.Contains(t, out, "--- Exchange 1 ---")
	assert.Contains(t, out, "You: Quel temps fait-il?")
	assert.Contains(t, out, "NAO: Il fait beau.")
	assert.Contains(t, rig.bot.Spoken(), "Il fait beau")
	assert.Nil(t, rig.engine.Session())
}

func TestConsoleInferenceFailureFallsBack(t *testing.T) {
	c, rig := startConsole(t, &scriptedInference{chatErr: errors.New("upstream down")})

	require.NoError(t, c.start())
	c.loop(strings.NewReader("/lang en\nhello\n"), false)
	c.quit()
	rig.waitStopped(t)

	out := rig.out.String()
	assert.Contains(t, out, "X get_response failed")
	assert.Contains(t, out, "NAO: "+cannotProcess["en"])
	assert.Equal(t, "en", c.language)
}

func TestConsoleListenTurn(t *testing.T) {
	c, rig := startConsole(t, &scriptedInference{reply: "Oui.", transcript: "tu m'entends"})

	require.NoError(t, c.start())
	c.loop(strings.NewReader("/listen\n"), false)
	c.quit()
	rig.waitStopped(t)

	out := rig.out.String()
	assert.Contains(t, out, ">>> Recording...")
	assert.Contains(t, out, "You: tu m'entends")
	assert.Contains(t, out, "NAO: Oui.")
}

func TestConsoleListenNothingHeard(t *testing.T) {
	c, rig := startConsole(t, &scriptedInference{transcript: "  "})

	require.NoError(t, c.start())
	c.loop(strings.NewReader("/listen\n/bogus\n"), false)
	c.quit()
	rig.waitStopped(t)

	out := rig.out.String()
	assert.Contains(t, out, "NAO: "+notUnderstood["fr"])
	assert.Contains(t, out, "X unknown command /bogus")
}

func TestConsoleRejectsBadLanguage(t *testing.T) {
	c, rig := startConsole(t, &scriptedInference{})

	require.NoError(t, c.start())
	c.loop(strings.NewReader("/lang de\n"), false)
	c.quit()
	rig.waitStopped(t)

	assert.Equal(t, "fr", c.language)
	assert.Contains(t, rig.out.String(), "X set_language failed")
}
