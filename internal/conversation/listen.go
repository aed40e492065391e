package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joss/naobridge/internal/inference"
	"github.com/joss/naobridge/internal/robot"
	"github.com/joss/naobridge/internal/vad"
)

// Recording format requested from the robot.
const (
	recordFormat     = "wav"
	recordSampleRate = 16000
)

// frontMic selects the front microphone only (left, right, front, rear).
var frontMic = [4]int{0, 0, 1, 0}

// Beeps played when the robot starts listening.
var listenBeeps = []int{1200, 1500}

// ListenResult is the outcome of a listen command.
type ListenResult struct {
	Transcription string
	VAD           vad.Result
}

// Listen records until the speaker stops (or maxDuration passes), fetches
// the recording and transcribes it. Tracking, eye colours and beeps are
// best-effort; recording, retrieval and transcription are not.
func (e *Engine) Listen(ctx context.Context, maxDuration time.Duration, log LogFunc) (ListenResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	emit := emitter(log)

	s, err := e.require()
	if err != nil {
		return ListenResult{}, err
	}
	defer e.enter(StateListening)()
	if maxDuration <= 0 {
		maxDuration = s.MaxRecording
	}
	h := s.robot

	e.cosmetic("stop stale recording", func() error { return h.Recorder.StopMicrophonesRecording(ctx) })
	emit(">>> Recording started")

	e.cosmetic("eyes green", func() error { return h.LEDs.FadeRGB(ctx, robot.FaceLeds, robot.ColorGreen, 0.1) })
	e.sleep(ctx, 200*time.Millisecond)

	e.startTracking(ctx, s, emit)
	trackingStopped := false
	stopTracking := func(ctx context.Context) {
		if !trackingStopped {
			trackingStopped = true
			e.stopTracking(ctx, s)
		}
	}
	defer stopTracking(context.WithoutCancel(ctx))

	e.cosmetic("eyes blue", func() error { return h.LEDs.FadeRGB(ctx, robot.FaceLeds, robot.ColorBlue, 0.5) })
	for _, freq := range listenBeeps {
		e.cosmetic("beep", func() error { return h.Audio.PlaySine(ctx, freq, 50, -1, 0.2) })
	}

	remote := e.env.RemoteAudioPath
	if err := h.Recorder.StartMicrophonesRecording(ctx, remote, recordFormat, recordSampleRate, frontMic); err != nil {
		emit("X Listen error: " + err.Error())
		return ListenResult{}, fmt.Errorf("start recording: %w", err)
	}
	emit(">>> Recording...")

	res, vadErr := e.detector(ctx, s, emit).RecordUntilSilence(ctx, vad.Params{
		MaxDuration:     maxDuration,
		Threshold:       s.SilenceThreshold,
		SilenceDuration: s.SilenceDuration,
	})
	switch res.Reason {
	case vad.ReasonMaxDuration:
		emit(">>> Max duration reached")
	case vad.ReasonSilence:
		emit(">>> Silence detected, stopping")
	}
	e.metrics.RecordListen(string(res.Reason), res.Failures, res.Elapsed.Milliseconds())

	// Tracking is torn down before the eyes go white.
	stopTracking(ctx)
	e.cosmetic("eyes white", func() error { return h.LEDs.FadeRGB(ctx, robot.FaceLeds, robot.ColorWhite, 0.5) })

	if err := h.Recorder.StopMicrophonesRecording(context.WithoutCancel(ctx)); err != nil && vadErr == nil {
		emit("X Listen error: " + err.Error())
		return ListenResult{VAD: res}, fmt.Errorf("stop recording: %w", err)
	}
	if vadErr != nil {
		return ListenResult{VAD: res}, vadErr
	}
	emit(">>> Recording finished")

	text, err := e.transcribe(ctx, s, remote, emit)
	if err != nil {
		return ListenResult{VAD: res}, err
	}
	emit(fmt.Sprintf(">>> Recognized text: '%s'", text))
	e.sessionLog().Info("heard", map[string]interface{}{
		"reason":  string(res.Reason),
		"elapsed": res.Elapsed.Seconds(),
		"chars":   len(text),
	})
	return ListenResult{Transcription: text, VAD: res}, nil
}

func (e *Engine) detector(ctx context.Context, s *Session, emit LogFunc) *vad.Detector {
	h := s.robot
	d := vad.New(func(ctx context.Context) (float64, error) {
		if err := h.Audio.EnableEnergyComputation(ctx); err != nil {
			return 0, &SensingError{Op: "enable energy", Err: err}
		}
		level, err := h.Audio.FrontMicEnergy(ctx)
		if err != nil {
			return 0, &SensingError{Op: "front mic energy", Err: err}
		}
		return level, nil
	})
	d.Clock = e.clock
	d.Indicator = func(ctx context.Context, phase int) error {
		color := uint32(robot.ColorBlue)
		if phase == 1 {
			color = robot.ColorCyan
		}
		return h.LEDs.FadeRGB(ctx, robot.FaceLeds, color, 0.3)
	}
	d.Progress = func(level float64) {
		emit(fmt.Sprintf(">>> Speech detected (level: %d)", int(level)))
	}
	return d
}

func (e *Engine) transcribe(ctx context.Context, s *Session, remote string, emit LogFunc) (string, error) {
	emit(">>> Downloading audio...")
	local := filepath.Join(e.workDir, "utterance-"+uuid.NewString()+".wav")
	defer os.Remove(local)

	if e.fetcher == nil {
		return "", &RetrievalError{Path: remote, Err: fmt.Errorf("no file fetcher configured")}
	}
	if err := e.fetcher.Fetch(ctx, s.Host, remote, local); err != nil {
		rerr := &RetrievalError{Path: remote, Err: err}
		emit("X Listen error: " + rerr.Error())
		return "", rerr
	}

	emit(">>> Transcribing...")
	f, err := os.Open(local)
	if err != nil {
		return "", &RetrievalError{Path: local, Err: err}
	}
	defer f.Close()

	if e.infer == nil {
		return "", &TranscriptionError{Detail: "no inference service configured"}
	}
	text, err := e.infer.Transcribe(ctx, f, "audio.wav", s.Language)
	e.metrics.RecordTranscription(err == nil)
	if err != nil {
		status, detail := inference.Describe(err)
		terr := &TranscriptionError{Status: status, Detail: detail, Err: err}
		emit(fmt.Sprintf("X Whisper API error (code %d)", status))
		e.sessionLog().Error("transcription_failed", map[string]interface{}{"status": status}, terr)
		return "", terr
	}
	return text, nil
}

// startTracking points the head at the nearest face. Any failure leaves
// tracking off and the listen continues.
func (e *Engine) startTracking(ctx context.Context, s *Session, emit LogFunc) {
	h := s.robot
	ok := e.cosmetic("face tracking", func() error {
		if err := h.Motion.SetStiffnesses(ctx, robot.GroupHead, 1.0); err != nil {
			return err
		}
		e.sleep(ctx, 200*time.Millisecond)
		if err := h.Faces.SetParameter(ctx, "Period", 500); err != nil {
			return err
		}
		if err := h.Faces.EnableTracking(ctx, true); err != nil {
			return err
		}
		if err := h.Tracker.SetMode(ctx, "Head"); err != nil {
			return err
		}
		if err := h.Tracker.RegisterTarget(ctx, "Face", 0.1); err != nil {
			return err
		}
		return h.Tracker.Track(ctx, "Face")
	})
	if !ok {
		emit("X Face tracking error")
		return
	}
	s.TrackingActive = true
	emit(">>> Face tracking enabled")
}

// stopTracking stops the tracker, centres the head and releases it. Every
// step runs even if tracking never fully started.
func (e *Engine) stopTracking(ctx context.Context, s *Session) {
	h := s.robot
	e.cosmetic("stop tracker", func() error { return h.Tracker.StopTracker(ctx) })
	e.cosmetic("unregister targets", func() error { return h.Tracker.UnregisterAllTargets(ctx) })
	e.cosmetic("centre head", func() error {
		if err := h.Motion.SetAngles(ctx, []string{"HeadYaw"}, []float64{0}, 0.3); err != nil {
			return err
		}
		return h.Motion.SetAngles(ctx, []string{"HeadPitch"}, []float64{0}, 0.3)
	})
	e.sleep(ctx, 300*time.Millisecond)
	e.cosmetic("release head", func() error { return h.Motion.SetStiffnesses(ctx, robot.GroupHead, 0) })
	s.TrackingActive = false
}
