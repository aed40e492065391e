package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("debug")
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel("info")
	})
	return &buf
}

func lastEvent(t *testing.T, buf *bytes.Buffer) Event {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &e))
	return e
}

func TestLoggerContextCopies(t *testing.T) {
	base := New("bridge")
	withSession := base.WithSession("01HSESSION")
	withCommand := withSession.WithCommand("cmd-1")

	assert.Empty(t, base.session)
	assert.Equal(t, "01HSESSION", withSession.session)
	assert.Empty(t, withSession.command)
	assert.Equal(t, "01HSESSION", withCommand.session)
	assert.Equal(t, "cmd-1", withCommand.command)
}

func TestLoggerWritesJSON(t *testing.T) {
	buf := captureOutput(t)

	New("vad").WithSession("s1").Warn("sample_failed", map[string]interface{}{"tick": 3}, errors.New("mic busy"))

	e := lastEvent(t, buf)
	assert.Equal(t, LevelWarn, e.Level)
	assert.Equal(t, "vad", e.Component)
	assert.Equal(t, "sample_failed", e.Event)
	assert.Equal(t, "s1", e.Session)
	assert.Equal(t, "mic busy", e.Error)
	assert.EqualValues(t, 3, e.Extra["tick"])
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("warn")

	l := New("test")
	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	assert.Empty(t, buf.String())

	l.Error("shown", nil, nil)
	assert.Contains(t, buf.String(), "shown")
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("verbose")

	New("test").Debug("still_debug", nil)
	assert.Contains(t, buf.String(), "still_debug")
}

func TestAttempt(t *testing.T) {
	buf := captureOutput(t)
	l := New("gesture")

	t.Run("success", func(t *testing.T) {
		ran := false
		ok := Attempt(l, "fade", func() error {
			ran = true
			return nil
		})
		assert.True(t, ok)
		assert.True(t, ran)
	})

	t.Run("failure is swallowed and logged", func(t *testing.T) {
		ok := Attempt(l, "fade", func() error { return errors.New("led offline") })
		assert.False(t, ok)
		e := lastEvent(t, buf)
		assert.Equal(t, "attempt_failed", e.Event)
		assert.Equal(t, "fade", e.Extra["op"])
		assert.Equal(t, "led offline", e.Error)
	})

	t.Run("panic is swallowed and logged", func(t *testing.T) {
		ok := Attempt(l, "track", func() error { panic("tracker gone") })
		assert.False(t, ok)
		e := lastEvent(t, buf)
		assert.Equal(t, "attempt_panicked", e.Event)
		assert.Equal(t, "tracker gone", e.Error)
	})
}
