// Package naoqi drives a NAO robot through a JSON-RPC 2.0 gateway that
// exposes NAOqi modules over HTTP. Each call is "<Module>.<method>" with
// positional params, e.g. "ALMotion.setStiffnesses" ["Head", 1.0].
package naoqi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/joss/naobridge/internal/robot"
)

// Module names on the robot.
const (
	ModTextToSpeech  = "ALTextToSpeech"
	ModMotion        = "ALMotion"
	ModLeds          = "ALLeds"
	ModAudioDevice   = "ALAudioDevice"
	ModAudioRecorder = "ALAudioRecorder"
	ModTracker       = "ALTracker"
	ModFaceDetection = "ALFaceDetection"
)

var requiredModules = []string{
	ModTextToSpeech, ModAudioRecorder, ModAudioDevice, ModMotion,
	ModLeds, ModTracker, ModFaceDetection,
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is an error reported by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("naoqi rpc error %d: %s", e.Code, e.Message)
}

// Client calls NAOqi module methods through the gateway.
type Client struct {
	endpoint   string
	httpClient *http.Client
	seq        atomic.Int64
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithEndpoint overrides the gateway URL (for testing or proxying).
func WithEndpoint(url string) Option {
	return func(cl *Client) {
		cl.endpoint = url
	}
}

// NewClient creates a client for the gateway at host:port.
func NewClient(host string, port int, opts ...Option) *Client {
	c := &Client{
		endpoint:   "http://" + host + ":" + strconv.Itoa(port) + "/",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes module.method with positional params and decodes the result into out (may be nil).
func (c *Client) Call(ctx context.Context, module, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  module + "." + method,
		Params:  params,
		ID:      c.seq.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal %s.%s: %w", module, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", module, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s.%s: gateway status %d: %s", module, method, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s.%s: %w", module, method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s.%s result: %w", module, method, err)
		}
	}
	return nil
}

// Ping checks that a module is loaded on the robot.
func (c *Client) Ping(ctx context.Context, module string) error {
	var ok bool
	if err := c.Call(ctx, module, "ping", &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: ping returned false", module)
	}
	return nil
}

// Dialer creates handles backed by a gateway client.
type Dialer struct {
	Options []Option
}

// Dial pings every required module and returns the bundled handles.
func (d Dialer) Dial(ctx context.Context, host string, port int) (*robot.Handles, error) {
	c := NewClient(host, port, d.Options...)
	for _, m := range requiredModules {
		if err := c.Ping(ctx, m); err != nil {
			return nil, fmt.Errorf("create %s handle: %w", m, err)
		}
	}
	return &robot.Handles{
		Speech:   &speech{c},
		Motion:   &motion{c},
		LEDs:     &leds{c},
		Audio:    &audioDevice{c},
		Recorder: &recorder{c},
		Tracker:  &tracker{c},
		Faces:    &faceDetection{c},
	}, nil
}
