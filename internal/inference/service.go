// Package inference talks to the Language Inference Service: speech
// transcription and chat completion over an OpenAI-compatible HTTP API.
package inference

import (
	"context"
	"io"
)

// Roles used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Service is the remote inference contract used by the conversation engine.
type Service interface {
	// Chat returns the assistant reply for an ordered message list.
	Chat(ctx context.Context, messages []Message) (string, error)
	// Transcribe returns the text spoken in a WAV stream. name is the file
	// name reported to the service; language is an ISO-639-1 hint.
	Transcribe(ctx context.Context, audio io.Reader, name, language string) (string, error)
}
