package selftest

import (
	"context"
	"fmt"
	"strings"

	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/robot"
)

// Environment lists configuration problems found without touching the network.
type Environment struct {
	HasTTY   bool
	Warnings []string
	Errors   []string
}

// CheckConfig validates the bridge configuration.
func CheckConfig(env *config.NaoEnv, hasTTY bool) *Environment {
	e := &Environment{HasTTY: hasTTY}

	if !env.HasAPIKey() {
		e.Warnings = append(e.Warnings, "GROQ_API_KEY not set: transcription and replies will fail")
	}
	if env.Language != "fr" && env.Language != "en" {
		e.Errors = append(e.Errors, fmt.Sprintf("NAO_LANGUAGE %q is not fr or en", env.Language))
	}
	if env.RobotIP == "" {
		e.Errors = append(e.Errors, "NAO_IP is empty")
	}
	if env.RobotPort <= 0 || env.RobotPort > 65535 {
		e.Errors = append(e.Errors, fmt.Sprintf("NAO_PORT %d out of range", env.RobotPort))
	}
	if env.SilenceThreshold <= 0 {
		e.Errors = append(e.Errors, "NAO_SILENCE_THRESHOLD must be positive")
	}
	if env.SilenceDuration <= 0 {
		e.Errors = append(e.Errors, "NAO_SILENCE_DURATION must be positive")
	}
	if env.MaxRecording <= env.SilenceDuration {
		e.Warnings = append(e.Warnings, fmt.Sprintf("NAO_MAX_RECORDING (%v) leaves no room for speech before %v of silence", env.MaxRecording, env.SilenceDuration))
	}
	return e
}

// IsHealthy reports whether the configuration can run a conversation.
func (e *Environment) IsHealthy() bool {
	return len(e.Errors) == 0
}

// Pinger is an inference endpoint that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober is a retrieval service that can be probed.
type Prober interface {
	Probe(ctx context.Context, host string) error
}

// Checks builds the reachability checks for env. Nil collaborators are skipped.
func Checks(env *config.NaoEnv, dialer robot.Dialer, infer Pinger, files Prober) []Check {
	var checks []Check
	if dialer != nil {
		checks = append(checks, Check{Name: "robot", Run: func(ctx context.Context) error {
			h, err := dialer.Dial(ctx, env.RobotIP, env.RobotPort)
			if err != nil {
				return err
			}
			return h.Validate()
		}})
	}
	if infer != nil {
		checks = append(checks, Check{Name: "inference", Optional: !env.HasAPIKey(), Run: infer.Ping})
	}
	if files != nil {
		checks = append(checks, Check{Name: "audio_retrieval", Run: func(ctx context.Context) error {
			return files.Probe(ctx, env.RobotIP)
		}})
	}
	return checks
}

// Summary returns a human-readable report. status may be nil when only
// the configuration was checked.
func (e *Environment) Summary(status *HealthStatus) string {
	var sb strings.Builder

	sb.WriteString("NAOBRIDGE CHECK\n")
	sb.WriteString(strings.Repeat("─", 40) + "\n")

	ttyStatus := "No (console runs in script mode)"
	if e.HasTTY {
		ttyStatus = "Yes (interactive console available)"
	}
	sb.WriteString(fmt.Sprintf("TTY:              %s\n", ttyStatus))

	if status != nil {
		for _, name := range status.Names() {
			c := status.Components[name]
			line := fmt.Sprintf("%-17s %s (%dms)", name+":", strings.ToUpper(c.Status), c.Latency)
			if c.Error != "" {
				line += " " + c.Error
			}
			sb.WriteString(line + "\n")
		}
	}

	if len(e.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range e.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", w))
		}
	}
	if len(e.Errors) > 0 {
		sb.WriteString("\nErrors:\n")
		for _, err := range e.Errors {
			sb.WriteString(fmt.Sprintf("  ✗ %s\n", err))
		}
	}

	sb.WriteString("\n")
	switch {
	case !e.IsHealthy() || (status != nil && status.Status == "unhealthy"):
		sb.WriteString("Status: UNHEALTHY - fix errors above\n")
	case len(e.Warnings) > 0 || (status != nil && status.Status == "degraded"):
		sb.WriteString("Status: DEGRADED\n")
	default:
		sb.WriteString("Status: HEALTHY\n")
	}
	return sb.String()
}
