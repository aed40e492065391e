package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/retrieval"
	"github.com/joss/naobridge/internal/robot/naoqi"
	"github.com/joss/naobridge/internal/selftest"
)

func doctorCmd() *cobra.Command {
	var (
		asJSON  bool
		offline bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and reachability of the robot and services",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := config.Env()
			report := selftest.CheckConfig(env, term.IsTerminal(int(os.Stdin.Fd())))

			var status *selftest.HealthStatus
			if !offline {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				status = selftest.CheckHealth(ctx, healthChecks(env))
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"config": report, "health": status})
			}
			fmt.Print(report.Summary(status))
			if !report.IsHealthy() || (status != nil && status.Status == "unhealthy") {
				return fmt.Errorf("unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Only check configuration")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Deadline for reachability checks")
	return cmd
}

// healthChecks probes the real robot gateway, inference endpoint and SFTP.
func healthChecks(env *config.NaoEnv) []selftest.Check {
	files := retrieval.NewSFTP(env.SSHUser, env.SSHPassword)
	files.Port = env.SSHPort
	infer := inference.NewClient(env.APIKey,
		inference.WithBaseURL(env.InferenceBaseURL),
		inference.WithModel(env.Model),
	)
	return selftest.Checks(env, naoqi.Dialer{}, infer, files)
}
