package protocol

import (
	"fmt"
	"io"
	"sync"
)

// Client is the supervisor side of a bridge channel. One request is in
// flight at a time.
type Client struct {
	enc *Encoder
	dec *Decoder
	mu  sync.Mutex

	// OnLog receives every log line streamed while waiting for a response.
	OnLog func(message string)
}

// NewClient creates a client reading envelopes from r and writing commands to w.
func NewClient(r io.Reader, w io.Writer) *Client {
	return NewChannelClient(NewDecoder(r), NewEncoder(w))
}

// NewChannelClient creates a client on an existing codec pair.
func NewChannelClient(dec *Decoder, enc *Encoder) *Client {
	return &Client{enc: enc, dec: dec}
}

// WaitReady blocks until the bridge announces readiness.
func (c *Client) WaitReady() (*Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	env, err := c.next()
	if err != nil {
		return nil, fmt.Errorf("wait ready: %w", err)
	}
	if env.Action != ActionReady {
		return nil, fmt.Errorf("wait ready: unexpected %q envelope", env.Action)
	}
	return env, nil
}

// Send writes one command and returns its terminal envelope. Log envelopes
// received in between go to OnLog. A response with success false is not an
// error; check Envelope.Success.
func (c *Client) Send(action string, params any) (*Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.Command(action, params); err != nil {
		return nil, fmt.Errorf("send %s: %w", action, err)
	}
	env, err := c.next()
	if err != nil {
		return nil, fmt.Errorf("await %s: %w", action, err)
	}
	return env, nil
}

// next returns the next non-log envelope.
func (c *Client) next() (*Envelope, error) {
	for {
		env, err := c.dec.Decode()
		if err != nil {
			return nil, err
		}
		if !env.IsLog() {
			return env, nil
		}
		if c.OnLog != nil {
			c.OnLog(env.Message())
		}
	}
}
