package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joss/naobridge/internal/protocol"
)

// Bridge actions served by the engine.
const (
	ActionConnect     = "connect"
	ActionListen      = "listen"
	ActionThink       = "think"
	ActionGetResponse = "get_response"
	ActionSpeak       = "speak"
	ActionSayGreeting = "say_greeting"
	ActionSetLanguage = "set_language"
	ActionDisconnect  = protocol.ActionDisconnect
)

type connectParams struct {
	Host     string `json:"nao_ip"`
	Port     int    `json:"nao_port"`
	Language string `json:"language"`
}

type listenParams struct {
	// MaxDuration is in seconds.
	MaxDuration float64 `json:"max_duration"`
}

type textParams struct {
	Text string `json:"text"`
}

type languageParams struct {
	Language string `json:"language"`
}

// Register installs the engine's command handlers on a bridge server.
func (e *Engine) Register(s *protocol.Server) {
	s.Handle(ActionConnect, e.handleConnect)
	s.Handle(ActionListen, e.handleListen)
	s.Handle(ActionThink, e.handleThink)
	s.Handle(ActionGetResponse, e.handleGetResponse)
	s.Handle(ActionSpeak, e.handleSpeak)
	s.Handle(ActionSayGreeting, e.handleSayGreeting)
	s.Handle(ActionSetLanguage, e.handleSetLanguage)
	s.Handle(ActionDisconnect, e.handleDisconnect)
}

func (e *Engine) handleConnect(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	var p connectParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	s, err := e.Connect(ctx, ConnectParams(p), LogFunc(log))
	if err != nil {
		return nil, err
	}
	return protocol.Data{"message": "Connected to NAO", "session": s.ID, "language": s.Language}, nil
}

func (e *Engine) handleListen(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	var p listenParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	res, err := e.Listen(ctx, time.Duration(p.MaxDuration*float64(time.Second)), LogFunc(log))
	if err != nil {
		return nil, err
	}
	return protocol.Data{
		"transcription": res.Transcription,
		"reason":        string(res.VAD.Reason),
	}, nil
}

func (e *Engine) handleThink(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	return nil, e.Think(ctx, LogFunc(log))
}

func (e *Engine) handleGetResponse(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	var p textParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	reply, err := e.GetResponse(ctx, p.Text, LogFunc(log))
	if err != nil {
		return nil, err
	}
	return protocol.Data{"response": reply}, nil
}

func (e *Engine) handleSpeak(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	var p textParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	return nil, e.Speak(ctx, p.Text, LogFunc(log))
}

func (e *Engine) handleSayGreeting(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	var p languageParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	text, err := e.SayGreeting(ctx, p.Language, LogFunc(log))
	if err != nil {
		return nil, err
	}
	return protocol.Data{"text": text}, nil
}

func (e *Engine) handleSetLanguage(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	var p languageParams
	if err := protocol.DecodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := e.SetLanguage(ctx, p.Language, LogFunc(log)); err != nil {
		return nil, err
	}
	return protocol.Data{"language": p.Language}, nil
}

func (e *Engine) handleDisconnect(ctx context.Context, raw json.RawMessage, log protocol.LogFunc) (protocol.Data, error) {
	e.Disconnect(ctx, LogFunc(log))
	return nil, nil
}
