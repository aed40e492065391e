package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/protocol"
)

// runBridge feeds lines to a bridge serving h's engine and returns every
// envelope written.
func runBridge(t *testing.T, h *harness, lines ...string) []protocol.Envelope {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	srv := protocol.NewServer(in, &out)
	srv.SetMetrics(h.metrics)
	h.engine.Register(srv)
	require.NoError(t, srv.Run(context.Background()))

	var envs []protocol.Envelope
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal([]byte(line), &env), line)
		envs = append(envs, env)
	}
	return envs
}

func terminals(envs []protocol.Envelope) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range envs {
		if !e.IsLog() && e.Action != protocol.ActionReady {
			out = append(out, e)
		}
	}
	return out
}

func TestBridgeConversation(t *testing.T) {
	h := newHarness(t, nil)

	envs := runBridge(t, h,
		`{"action":"connect","params":{"nao_ip":"10.0.0.7"}}`,
		`{"action":"set_language","params":{"language":"en"}}`,
		`{"action":"get_response","params":{"text":"hello"}}`,
		`{"action":"bogus"}`,
		`{"action":"set_language","params":{"language":"de"}}`,
	)

	assert.Equal(t, protocol.ActionReady, envs[0].Action)
	got := terminals(envs)
	require.Len(t, got, 5)

	assert.Equal(t, "connect", got[0].Action)
	assert.True(t, got[0].Success)
	assert.Equal(t, "Connected to NAO", got[0].Message())
	assert.Equal(t, "fr", got[0].String("language"))
	assert.Contains(t, got[0].Logs, "OK Connected")

	assert.True(t, got[1].Success)
	assert.Equal(t, "en", got[1].String("language"))

	assert.True(t, got[2].Success)
	assert.Equal(t, "Hi there", got[2].String("response"))

	assert.Equal(t, protocol.ActionError, got[3].Action)
	assert.Equal(t, "unknown action: bogus", got[3].Error())

	assert.False(t, got[4].Success)
	assert.Contains(t, got[4].Error(), "unsupported language")

	s := h.engine.Session()
	require.NotNil(t, s)
	assert.Equal(t, "en", s.Language)
	assert.Equal(t, []inference.Message{
		{Role: inference.RoleUser, Content: "hello"},
		{Role: inference.RoleAssistant, Content: "Hi there"},
	}, s.History)
}

func TestBridgeRequiresConnection(t *testing.T) {
	h := newHarness(t, nil)

	got := terminals(runBridge(t, h,
		`{"action":"speak","params":{"text":"Bonjour"}}`,
		`{"action":"listen"}`,
	))

	require.Len(t, got, 2)
	for _, env := range got {
		assert.False(t, env.Success)
		assert.Equal(t, "not connected", env.Error())
	}
	assert.Empty(t, h.bot.Calls())
}

func TestBridgeQuitDisconnects(t *testing.T) {
	h := newHarness(t, nil)

	got := terminals(runBridge(t, h,
		`{"action":"connect"}`,
		`{"action":"quit"}`,
		`{"action":"speak","params":{"text":"never read"}}`,
	))

	require.Len(t, got, 2)
	assert.Equal(t, protocol.ActionDisconnect, got[1].Action)
	assert.True(t, got[1].Success)
	assert.Nil(t, h.engine.Session())
	assert.Empty(t, h.bot.Spoken())
}

func TestBridgeListenData(t *testing.T) {
	h := newHarness(t, nil)
	h.bot.ScriptEnergy(0)

	got := terminals(runBridge(t, h,
		`{"action":"connect"}`,
		`{"action":"listen","params":{"max_duration":1.5}}`,
		`{"action":"say_greeting","params":{"language":"en"}}`,
	))

	require.Len(t, got, 3)
	assert.True(t, got[1].Success)
	assert.Equal(t, "bonjour", got[1].String("transcription"))
	assert.Equal(t, "max_duration", got[1].String("reason"))
	assert.Equal(t, "Hello! I am NAO.", got[2].String("text"))
}
