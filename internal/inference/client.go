package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 350
)

// Client implements Service on top of go-openai. Any OpenAI-compatible
// endpoint works; the default deployment points it at Groq.
type Client struct {
	api                *openai.Client
	model              string
	transcriptionModel string
	temperature        float32
	maxTokens          int
	httpClient         *http.Client
	baseURL            string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (and its timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTranscriptionModel sets the speech-to-text model.
func WithTranscriptionModel(model string) Option {
	return func(c *Client) { c.transcriptionModel = model }
}

// WithSampling sets temperature and the reply token cap.
func WithSampling(temperature float32, maxTokens int) Option {
	return func(c *Client) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// NewClient returns a client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		model:              "llama-3.3-70b-versatile",
		transcriptionModel: "whisper-large-v3",
		temperature:        DefaultTemperature,
		maxTokens:          DefaultMaxTokens,
		httpClient:         &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	cfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Model returns the chat model name.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the message list and returns the first choice.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcribe uploads the audio and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, name, language string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: name,
		Reader:   audio,
		Language: language,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// Ping lists the models offered by the endpoint and checks that the chat
// model is one of them.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range list.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not offered by endpoint", c.model)
}

// ErrEmptyReply is returned when a completion carries no choices.
var ErrEmptyReply = errors.New("inference: empty reply")

// Describe extracts the upstream HTTP status and a human-readable detail
// from an error returned by Client. Status is zero for transport failures.
func Describe(err error) (status int, detail string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail = http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return reqErr.HTTPStatusCode, detail
	}
	if err == nil {
		return 0, ""
	}
	return 0, err.Error()
}

var _ Service = (*Client)(nil)
