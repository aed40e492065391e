// Package main provides the naobridge CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "naobridge",
		Short: "Conversation bridge for the NAO robot",
		Long: `naobridge drives spoken conversations on a NAO robot.

Usage modes:
  naobridge serve            Run the bridge on stdin/stdout (JSON lines)
  naobridge serve --ws ADDR  Serve one bridge per websocket connection
  naobridge console          Talk to the robot from the terminal
  naobridge doctor           Check configuration and connectivity

Configuration comes from the environment or a .env file (see NAO_ENV_FILE).`,
		SilenceUsage: true,
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "bridge", Title: "Bridge:"},
	)

	serve := serveCmd()
	serve.GroupID = "bridge"
	rootCmd.AddCommand(serve)

	console := consoleCmd()
	console.GroupID = "bridge"
	rootCmd.AddCommand(console)

	doctor := doctorCmd()
	doctor.GroupID = "bridge"
	rootCmd.AddCommand(doctor)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show naobridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("naobridge version %s\n", version)
		},
	}
}
