// Package robot defines the actuation and sensing capabilities the
// conversation engine drives. Implementations live in subpackages: naoqi talks
// to a real robot gateway, sim is an in-memory stand-in.
package robot

import (
	"context"
	"fmt"
)

// Joint groups addressed by stiffness calls.
const (
	GroupHead = "Head"
	GroupLArm = "LArm"
	GroupRArm = "RArm"
	GroupLLeg = "LLeg"
	GroupRLeg = "RLeg"
)

// GestureGroups are energized while gesturing and must be released afterwards.
var GestureGroups = []string{GroupLArm, GroupRArm, GroupHead, GroupLLeg, GroupRLeg}

// FaceLeds is the LED group used for eye colour cues.
const FaceLeds = "FaceLeds"

// Eye colours (0xRRGGBB).
const (
	ColorGreen = 0x00FF00
	ColorBlue  = 0x0000FF
	ColorCyan  = 0x00FFFF
	ColorWhite = 0xFFFFFF
)

// Speech is the text-to-speech capability.
type Speech interface {
	// Say blocks until the utterance has been spoken.
	Say(ctx context.Context, text string) error
	SetLanguage(ctx context.Context, language string) error
	SetVolume(ctx context.Context, volume float64) error
}

// Motion sets joint stiffness and angles.
type Motion interface {
	SetStiffnesses(ctx context.Context, group string, stiffness float64) error
	// SetAngles starts a move towards angles at a fraction of max speed and
	// returns once the command is accepted.
	SetAngles(ctx context.Context, joints []string, angles []float64, speed float64) error
}

// LEDs drives LED groups.
type LEDs interface {
	FadeRGB(ctx context.Context, group string, rgb uint32, seconds float64) error
}

// AudioDevice gives access to microphone energy and simple tones.
type AudioDevice interface {
	EnableEnergyComputation(ctx context.Context) error
	FrontMicEnergy(ctx context.Context) (float64, error)
	PlaySine(ctx context.Context, frequency, gain, pan int, seconds float64) error
}

// Recorder captures microphone audio to a file on the robot.
type Recorder interface {
	StartMicrophonesRecording(ctx context.Context, path, format string, sampleRate int, channels [4]int) error
	StopMicrophonesRecording(ctx context.Context) error
}

// Tracker follows a registered target with the head.
type Tracker interface {
	SetMode(ctx context.Context, mode string) error
	RegisterTarget(ctx context.Context, target string, width float64) error
	Track(ctx context.Context, target string) error
	StopTracker(ctx context.Context) error
	UnregisterAllTargets(ctx context.Context) error
}

// FaceDetection configures the face detector feeding the tracker.
type FaceDetection interface {
	SetParameter(ctx context.Context, name string, value any) error
	EnableTracking(ctx context.Context, enabled bool) error
}

// Handles bundles the capability handles of one connected robot.
type Handles struct {
	Speech   Speech
	Motion   Motion
	LEDs     LEDs
	Audio    AudioDevice
	Recorder Recorder
	Tracker  Tracker
	Faces    FaceDetection
}

// Validate reports a missing capability.
func (h *Handles) Validate() error {
	switch {
	case h == nil:
		return fmt.Errorf("no capability handles")
	case h.Speech == nil:
		return fmt.Errorf("missing speech capability")
	case h.Motion == nil:
		return fmt.Errorf("missing motion capability")
	case h.LEDs == nil:
		return fmt.Errorf("missing led capability")
	case h.Audio == nil:
		return fmt.Errorf("missing audio device capability")
	case h.Recorder == nil:
		return fmt.Errorf("missing audio recorder capability")
	case h.Tracker == nil:
		return fmt.Errorf("missing tracker capability")
	case h.Faces == nil:
		return fmt.Errorf("missing face detection capability")
	}
	return nil
}

// Dialer creates capability handles for the robot at host:port.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (*Handles, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, host string, port int) (*Handles, error)

func (f DialerFunc) Dial(ctx context.Context, host string, port int) (*Handles, error) {
	return f(ctx, host, port)
}

// TTSLanguage maps a session language code to the speech engine language name.
func TTSLanguage(lang string) string {
	if lang == "fr" {
		return "French"
	}
	return "English"
}
