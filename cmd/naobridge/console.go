package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/naobridge/internal/config"
	"github.com/joss/naobridge/internal/protocol"
	"github.com/joss/naobridge/internal/render"
	"github.com/joss/naobridge/internal/transport"
)

// Fallback lines spoken when a turn cannot be completed.
var (
	notUnderstood = map[string]string{
		"fr": "Je n'ai pas compris. Pouvez-vous repeter?",
		"en": "I didn't understand. Can you repeat?",
	}
	cannotProcess = map[string]string{
		"fr": "Desole, je n'ai pas pu traiter votre demande.",
		"en": "Sorry, I couldn't process your request.",
	}
)

type consoleOptions struct {
	wsURL       string
	simulate    bool
	verbose     bool
	host        string
	port        int
	language    string
	maxDuration float64
	noGreeting  bool
}

func consoleCmd() *cobra.Command {
	var opts consoleOptions

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the robot from the terminal",
		Long: `Start a bridge (or dial one with --ws), connect to the robot and greet.

Then each typed line is a turn:
  /listen       record, transcribe, think, answer and speak
  /lang fr|en   switch language
  /quit         disconnect and exit
  anything else is sent as the user's words`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.wsURL, "ws", "", "Dial a websocket bridge (e.g. ws://localhost:8765/bridge)")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Run the spawned bridge against an in-memory robot")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show the bridge's structured logs")
	cmd.Flags().StringVar(&opts.host, "nao-ip", "", "Robot address (default from NAO_IP)")
	cmd.Flags().IntVar(&opts.port, "nao-port", 0, "Robot port (default from NAO_PORT)")
	cmd.Flags().StringVar(&opts.language, "lang", "", "Conversation language, fr or en (default from NAO_LANGUAGE)")
	cmd.Flags().Float64Var(&opts.maxDuration, "max-duration", 10, "Longest recording in seconds")
	cmd.Flags().BoolVar(&opts.noGreeting, "no-greeting", false, "Skip the greeting after connecting")
	return cmd
}

func runConsole(ctx context.Context, opts consoleOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.language == "" {
		opts.language = config.Env().Language
	}
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	out := render.NewWriter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	var (
		client *protocol.Client
		closer io.Closer
		err    error
	)
	if opts.wsURL != "" {
		client, closer, err = dialBridge(ctx, opts.wsURL)
	} else {
		client, closer, err = spawnBridge(ctx, opts)
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	c := newConsole(client, out, opts)
	if err := c.start(); err != nil {
		return err
	}
	c.loop(os.Stdin, interactive)
	c.quit()
	return nil
}

func dialBridge(ctx context.Context, url string) (*protocol.Client, io.Closer, error) {
	client, conn, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial bridge %s: %w", url, err)
	}
	return client, conn, nil
}

// bridgeProcess is a spawned "naobridge serve" child.
type bridgeProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *bridgeProcess) Close() error {
	p.stdin.Close()
	return p.cmd.Wait()
}

func spawnBridge(ctx context.Context, opts consoleOptions) (*protocol.Client, io.Closer, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"serve"}
	if opts.simulate {
		args = append(args, "--simulate")
	}

	cmd := exec.CommandContext(ctx, self, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if opts.verbose {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start bridge: %w", err)
	}
	return protocol.NewClient(stdout, stdin), &bridgeProcess{cmd: cmd, stdin: stdin}, nil
}

// console drives one conversation through a bridge client.
type console struct {
	client    *protocol.Client
	out       *render.Writer
	opts      consoleOptions
	language  string
	exchanges int
}

func newConsole(client *protocol.Client, out *render.Writer, opts consoleOptions) *console {
	client.OnLog = out.Log
	return &console{client: client, out: out, opts: opts, language: opts.language}
}

// start waits for the bridge, connects to the robot and greets.
func (c *console) start() error {
	ready, err := c.client.WaitReady()
	if err != nil {
		return err
	}
	c.out.Log("OK " + ready.Message())

	resp, err := c.client.Send("connect", map[string]any{
		"nao_ip":   c.opts.host,
		"nao_port": c.opts.port,
		"language": c.language,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("connect: %s", resp.Error())
	}

	if !c.opts.noGreeting {
		if resp, ok := c.send("say_greeting", map[string]any{"language": c.language}); ok {
			c.out.Robot(resp.String("text"))
		}
	}
	return nil
}

// loop reads turns until /quit or end of input.
func (c *console) loop(in io.Reader, interactive bool) {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/listen":
			c.listenTurn()
		case strings.HasPrefix(line, "/lang"):
			c.setLanguage(strings.TrimSpace(strings.TrimPrefix(line, "/lang")))
		case strings.HasPrefix(line, "/"):
			c.out.Failure("unknown command %s", line)
		default:
			c.textTurn(line)
		}
	}
}

func (c *console) quit() {
	if _, err := c.client.Send(protocol.ActionQuit, nil); err != nil {
		c.out.Failure("quit: %v", err)
	}
}

// send runs a command, reporting transport errors and failed responses.
func (c *console) send(action string, params any) (*protocol.Envelope, bool) {
	resp, err := c.client.Send(action, params)
	if err != nil {
		c.out.Failure("%s: %v", action, err)
		return nil, false
	}
	if !resp.Success {
		c.out.Failure("%s failed: %s", action, resp.Error())
		return resp, false
	}
	return resp, true
}

func (c *console) setLanguage(lang string) {
	if _, ok := c.send("set_language", map[string]any{"language": lang}); ok {
		c.language = lang
	}
}

func (c *console) listenTurn() {
	c.beginExchange()
	resp, ok := c.send("listen", map[string]any{"max_duration": c.opts.maxDuration})
	var heard string
	if ok {
		heard = strings.TrimSpace(resp.String("transcription"))
	}
	if heard == "" {
		c.speak(notUnderstood[c.language])
		return
	}
	c.out.Human(heard)
	c.answer(heard)
}

func (c *console) textTurn(text string) {
	c.beginExchange()
	c.out.Human(text)
	c.answer(text)
}

func (c *console) beginExchange() {
	c.exchanges++
	c.out.Section(fmt.Sprintf("Exchange %d", c.exchanges))
	// Keep the bridge in step with the console's language.
	c.send("set_language", map[string]any{"language": c.language})
}

func (c *console) answer(text string) {
	c.send("think", nil)
	reply := cannotProcess[c.language]
	if resp, ok := c.send("get_response", map[string]any{"text": text}); ok {
		reply = resp.String("response")
	}
	c.speak(reply)
}

func (c *console) speak(text string) {
	c.out.Robot(text)
	c.send("speak", map[string]any{"text": text})
}
