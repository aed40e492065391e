// Package config provides centralized configuration management.
// Values come from the process environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Default prompts and greetings, used when the environment does not override them.
const (
	DefaultSystemPromptFR = "Tu es NAO, un robot assistant sympathique et serviable. Reponds de maniere concise et naturelle en francais. Garde tes reponses pas trop longues mais avec quelques explications car elles seront prononcees par un robot."
	DefaultSystemPromptEN = "You are NAO, a friendly and helpful robot assistant. Respond concisely and naturally in English. Keep your answers not too long but with some explanations as they will be spoken by a robot."
	DefaultGreetingFR     = "Bonjour! Je suis NAO, un robot assistant. Enchanté! Comment puis-je t'aider?"
	DefaultGreetingEN     = "Hello! I am NAO, a robot assistant. Nice to meet you! How can I help you?"
)

// NaoEnv holds all bridge environment variables.
type NaoEnv struct {
	// APIKey authenticates against the inference service (GROQ_API_KEY)
	APIKey string

	// Model is the chat model (LLM_MODEL)
	Model string

	// TranscriptionModel is the speech-to-text model (WHISPER_MODEL)
	TranscriptionModel string

	// InferenceBaseURL is the OpenAI-compatible endpoint (INFERENCE_BASE_URL)
	InferenceBaseURL string

	// Language is the default spoken language, fr or en (NAO_LANGUAGE)
	Language string

	// RobotIP and RobotPort address the robot gateway (NAO_IP, NAO_PORT)
	RobotIP   string
	RobotPort int

	// SSH credentials used to fetch recorded audio (NAO_SSH_USER, NAO_SSH_PASSWORD, NAO_SSH_PORT)
	SSHUser     string
	SSHPassword string
	SSHPort     int

	// RemoteAudioPath is where the robot records the utterance (NAO_REMOTE_AUDIO)
	RemoteAudioPath string

	SystemPromptFR string
	SystemPromptEN string
	GreetingFR     string
	GreetingEN     string

	// SilenceThreshold is the mic energy above which a sample counts as sound (NAO_SILENCE_THRESHOLD)
	SilenceThreshold float64

	// SilenceDuration is how long silence must last to end a recording (NAO_SILENCE_DURATION, seconds)
	SilenceDuration time.Duration

	// MaxRecording caps a recording (NAO_MAX_RECORDING, seconds)
	MaxRecording time.Duration

	// Gestures toggles expressive gestures while speaking (NAO_GESTURES)
	Gestures bool

	// LogLevel is the minimum structured log level (NAO_LOG_LEVEL)
	LogLevel string
}

var (
	env     *NaoEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call. A .env file (NAO_ENV_FILE or ./.env)
// is applied first; variables already set in the process win.
func Env() *NaoEnv {
	envOnce.Do(func() {
		loadDotEnv()
		env = &NaoEnv{
			APIKey:             os.Getenv("GROQ_API_KEY"),
			Model:              getEnvDefault("LLM_MODEL", "llama-3.3-70b-versatile"),
			TranscriptionModel: getEnvDefault("WHISPER_MODEL", "whisper-large-v3"),
			InferenceBaseURL:   getEnvDefault("INFERENCE_BASE_URL", "https://api.groq.com/openai/v1"),
			Language:           getEnvDefault("NAO_LANGUAGE", "fr"),
			RobotIP:            getEnvDefault("NAO_IP", "169.254.201.219"),
			RobotPort:          getEnvInt("NAO_PORT", 9559),
			SSHUser:            getEnvDefault("NAO_SSH_USER", "nao"),
			SSHPassword:        getEnvDefault("NAO_SSH_PASSWORD", "nao"),
			SSHPort:            getEnvInt("NAO_SSH_PORT", 22),
			RemoteAudioPath:    getEnvDefault("NAO_REMOTE_AUDIO", "/tmp/temp_audio.wav"),
			SystemPromptFR:     getEnvDefault("SYSTEM_PROMPT_FR", DefaultSystemPromptFR),
			SystemPromptEN:     getEnvDefault("SYSTEM_PROMPT_EN", DefaultSystemPromptEN),
			GreetingFR:         getEnvDefault("GREETING_FR", DefaultGreetingFR),
			GreetingEN:         getEnvDefault("GREETING_EN", DefaultGreetingEN),
			SilenceThreshold:   getEnvFloat("NAO_SILENCE_THRESHOLD", 1100),
			SilenceDuration:    getEnvSeconds("NAO_SILENCE_DURATION", 1.5),
			MaxRecording:       getEnvSeconds("NAO_MAX_RECORDING", 10),
			Gestures:           getEnvBool("NAO_GESTURES", true),
			LogLevel:           getEnvDefault("NAO_LOG_LEVEL", "info"),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

// HasAPIKey reports whether inference credentials are present.
func (e *NaoEnv) HasAPIKey() bool {
	return e.APIKey != ""
}

// SystemPrompt returns the system prompt for a language, defaulting to French.
func (e *NaoEnv) SystemPrompt(lang string) string {
	if lang == "en" {
		return e.SystemPromptEN
	}
	return e.SystemPromptFR
}

// Greeting returns the canned greeting for a language, defaulting to French.
func (e *NaoEnv) Greeting(lang string) string {
	if lang == "en" {
		return e.GreetingEN
	}
	return e.GreetingFR
}

func loadDotEnv() {
	path := os.Getenv("NAO_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	// Missing file is fine: plain environment variables still apply.
	_ = godotenv.Load(path)
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvSeconds(key string, fallback float64) time.Duration {
	return time.Duration(getEnvFloat(key, fallback) * float64(time.Second))
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
