package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/conversation"
	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/metrics"
	"github.com/joss/naobridge/internal/protocol"
	"github.com/joss/naobridge/internal/retrieval"
	"github.com/joss/naobridge/internal/robot/naoqi"
	"github.com/joss/naobridge/internal/robot/sim"
	"github.com/joss/naobridge/internal/runtime"
	"github.com/joss/naobridge/internal/selftest"
	"github.com/joss/naobridge/internal/transport"
)

type serveOptions struct {
	wsAddr      string
	metricsAddr string
	simulate    bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long: `Run the conversation bridge.

Without --ws the bridge reads one JSON command per line on stdin and writes
JSON envelopes on stdout. Structured logs go to stderr.

With --ws every websocket connection to /bridge gets its own bridge and
robot session; /healthz and /metrics are served alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.wsAddr, "ws", "", "Serve websockets on this address (e.g. :8765)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Expose /metrics on this address in stdio mode")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Use an in-memory robot instead of a NAOqi gateway")
	return cmd
}

func runServe(opts serveOptions) error {
	env := config.Env()
	logging.SetLevel(env.LogLevel)
	log := logging.New("serve")

	shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	stop := shutdown.ListenForSignals()
	defer stop()
	ctx := shutdown.Context()
	m := metrics.Global()

	if opts.wsAddr != "" {
		srv := transport.NewServer(opts.wsAddr, func(b *protocol.Server) func(context.Context) {
			engine := newEngine(env, opts.simulate, m)
			engine.Register(b)
			return func(ctx context.Context) { engine.Disconnect(ctx, nil) }
		}, m)
		if !opts.simulate {
			srv.SetReadiness(selftest.HealthHandler(healthChecks(env)))
		}
		log.Info("serving", map[string]interface{}{"mode": "websocket", "addr": opts.wsAddr, "simulate": opts.simulate})
		err := srv.ListenAndServe(ctx)
		shutdown.Shutdown()
		return err
	}

	if opts.metricsAddr != "" {
		ms := metrics.NewServer(opts.metricsAddr)
		ms.Start()
		shutdown.Register("metrics server", ms.Stop)
	}

	engine := newEngine(env, opts.simulate, m)
	shutdown.Register("robot session", func(ctx context.Context) error {
		engine.Disconnect(ctx, nil)
		return nil
	})

	bridge := protocol.NewStdioServer()
	bridge.SetMetrics(m)
	engine.Register(bridge)
	log.Info("serving", map[string]interface{}{"mode": "stdio", "simulate": opts.simulate})

	errc := make(chan error, 1)
	logging.SafeGo("serve", func() { errc <- bridge.Run(ctx) })

	var err error
	select {
	case err = <-errc:
	case <-shutdown.Done():
		// stdin stays blocked after a signal; the cleanup already ran.
	}
	shutdown.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newEngine wires a conversation engine to the configured robot, inference
// service and file retrieval.
func newEngine(env *config.NaoEnv, simulate bool, m *metrics.Metrics) *conversation.Engine {
	opts := conversation.Options{
		Env:     env,
		Metrics: m,
		Inference: inference.NewClient(env.APIKey,
			inference.WithBaseURL(env.InferenceBaseURL),
			inference.WithModel(env.Model),
			inference.WithTranscriptionModel(env.TranscriptionModel),
		),
	}
	if simulate {
		bot := sim.New()
		// One second of speech, then silence.
		bot.ScriptEnergy(3000, 3000, 3000, 3000, 3000, 3000, 3000, 3000, 3000, 3000, 0)
		opts.Dialer = bot.Dialer()
		opts.Fetcher = sim.Fetcher{}
	} else {
		fetcher := retrieval.NewSFTP(env.SSHUser, env.SSHPassword)
		fetcher.Port = env.SSHPort
		opts.Dialer = naoqi.Dialer{}
		opts.Fetcher = fetcher
	}
	return conversation.New(opts)
}
