package naoqi

import (
	"context"
)

type speech struct{ c *Client }

func (s *speech) Say(ctx context.Context, text string) error {
	return s.c.Call(ctx, ModTextToSpeech, "say", nil, text)
}

func (s *speech) SetLanguage(ctx context.Context, language string) error {
	return s.c.Call(ctx, ModTextToSpeech, "setLanguage", nil, language)
}

func (s *speech) SetVolume(ctx context.Context, volume float64) error {
	return s.c.Call(ctx, ModTextToSpeech, "setVolume", nil, volume)
}

type motion struct{ c *Client }

func (m *motion) SetStiffnesses(ctx context.Context, group string, stiffness float64) error {
	return m.c.Call(ctx, ModMotion, "setStiffnesses", nil, group, stiffness)
}

func (m *motion) SetAngles(ctx context.Context, joints []string, angles []float64, speed float64) error {
	return m.c.Call(ctx, ModMotion, "setAngles", nil, joints, angles, speed)
}

type leds struct{ c *Client }

func (l *leds) FadeRGB(ctx context.Context, group string, rgb uint32, seconds float64) error {
	return l.c.Call(ctx, ModLeds, "fadeRGB", nil, group, rgb, seconds)
}

type audioDevice struct{ c *Client }

func (a *audioDevice) EnableEnergyComputation(ctx context.Context) error {
	return a.c.Call(ctx, ModAudioDevice, "enableEnergyComputation", nil)
}

func (a *audioDevice) FrontMicEnergy(ctx context.Context) (float64, error) {
	var energy float64
	err := a.c.Call(ctx, ModAudioDevice, "getFrontMicEnergy", &energy)
	return energy, err
}

func (a *audioDevice) PlaySine(ctx context.Context, frequency, gain, pan int, seconds float64) error {
	return a.c.Call(ctx, ModAudioDevice, "playSine", nil, frequency, gain, pan, seconds)
}

type recorder struct{ c *Client }

func (r *recorder) StartMicrophonesRecording(ctx context.Context, path, format string, sampleRate int, channels [4]int) error {
	return r.c.Call(ctx, ModAudioRecorder, "startMicrophonesRecording", nil, path, format, sampleRate, channels[:])
}

func (r *recorder) StopMicrophonesRecording(ctx context.Context) error {
	return r.c.Call(ctx, ModAudioRecorder, "stopMicrophonesRecording", nil)
}

type tracker struct{ c *Client }

func (t *tracker) SetMode(ctx context.Context, mode string) error {
	return t.c.Call(ctx, ModTracker, "setMode", nil, mode)
}

func (t *tracker) RegisterTarget(ctx context.Context, target string, width float64) error {
	return t.c.Call(ctx, ModTracker, "registerTarget", nil, target, width)
}

func (t *tracker) Track(ctx context.Context, target string) error {
	return t.c.Call(ctx, ModTracker, "track", nil, target)
}

func (t *tracker) StopTracker(ctx context.Context) error {
	return t.c.Call(ctx, ModTracker, "stopTracker", nil)
}

func (t *tracker) UnregisterAllTargets(ctx context.Context) error {
	return t.c.Call(ctx, ModTracker, "unregisterAllTargets", nil)
}

type faceDetection struct{ c *Client }

func (f *faceDetection) SetParameter(ctx context.Context, name string, value any) error {
	return f.c.Call(ctx, ModFaceDetection, "setParameter", nil, name, value)
}

func (f *faceDetection) EnableTracking(ctx context.Context, enabled bool) error {
	return f.c.Call(ctx, ModFaceDetection, "enableTracking", nil, enabled)
}
