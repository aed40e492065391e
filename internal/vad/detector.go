// Package vad decides when a speaker has finished talking from a polled,
// noisy microphone energy signal.
package vad

import (
	"context"
	"errors"
	"time"

	"github.com/joss/naobridge/internal/clock"
	"github.com/joss/naobridge/internal/logging"
)

// Reason explains why a recording window closed.
type Reason string

const (
	ReasonMaxDuration Reason = "max_duration"
	ReasonSilence     Reason = "silence"
)

const (
	// DefaultInterval is the polling period.
	DefaultInterval = 100 * time.Millisecond
	// MinSpeech is how much of the window must contain sound before
	// silence can end it.
	MinSpeech = 500 * time.Millisecond
	// progressEvery rate-limits speech progress callbacks, in ticks.
	progressEvery = 5
)

// ErrNoSampler is returned when the detector has nothing to poll.
var ErrNoSampler = errors.New("vad: no energy sampler")

// Sampler returns the instantaneous microphone energy.
type Sampler func(ctx context.Context) (float64, error)

// Indicator is the per-tick heartbeat; phase alternates 0/1.
type Indicator func(ctx context.Context, phase int) error

// Params bound one recording window.
type Params struct {
	MaxDuration     time.Duration
	Threshold       float64
	SilenceDuration time.Duration
}

// Result describes a closed recording window.
type Result struct {
	Reason Reason
	// Elapsed is the window length when it closed.
	Elapsed time.Duration
	// LastSound is the offset of the last above-threshold sample from the
	// window start; zero when no sound was heard.
	LastSound time.Duration
	// SpeechDetected reports whether at least MinSpeech of sound was heard.
	SpeechDetected bool
	Samples        int
	Failures       int
}

// Detector polls a Sampler on a Clock. Zero-valued optional fields fall back
// to the real clock and DefaultInterval.
type Detector struct {
	Clock     clock.Clock
	Sample    Sampler
	Indicator Indicator
	Interval  time.Duration
	// Progress is called with the energy level on speech ticks, at most every
	// half second.
	Progress func(level float64)

	log *logging.Logger
}

// New returns a detector polling sample on the real clock.
func New(sample Sampler) *Detector {
	return &Detector{
		Clock:    clock.Real{},
		Sample:   sample,
		Interval: DefaultInterval,
	}
}

func (d *Detector) logger() *logging.Logger {
	if d.log == nil {
		d.log = logging.New("vad")
	}
	return d.log
}

// RecordUntilSilence blocks until the window closes: either MaxDuration has
// elapsed, or the signal stayed at or below Threshold for SilenceDuration
// after more than MinSpeech of sound. Sampling failures skip the tick. The
// only error is ctx cancellation (or a missing sampler).
func (d *Detector) RecordUntilSilence(ctx context.Context, p Params) (Result, error) {
	if d.Sample == nil {
		return Result{}, ErrNoSampler
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := d.logger()

	var res Result
	start := clk.Now()
	lastSound := start
	var silenceStart time.Time
	silent := false

	for tick := 0; ; tick++ {
		elapsed := clk.Now().Sub(start)
		if elapsed >= p.MaxDuration {
			res.Reason = ReasonMaxDuration
			res.Elapsed = elapsed
			break
		}

		if d.Indicator != nil {
			if err := d.Indicator(ctx, tick%2); err != nil {
				log.Debug("indicator_failed", map[string]interface{}{"tick": tick, "error": err.Error()})
			}
		}

		level, err := d.Sample(ctx)
		res.Samples++
		if err != nil {
			res.Failures++
			log.Debug("sample_failed", map[string]interface{}{"tick": tick, "error": err.Error()})
		} else {
			now := clk.Now()
			if level > p.Threshold {
				lastSound = now
				silent = false
				if d.Progress != nil && tick%progressEvery == 0 {
					d.Progress(level)
				}
			} else {
				if !silent {
					silenceStart = now
					silent = true
				}
				if now.Sub(silenceStart) >= p.SilenceDuration && lastSound.Sub(start) > MinSpeech {
					res.Reason = ReasonSilence
					res.Elapsed = now.Sub(start)
					break
				}
			}
		}

		if err := clk.Sleep(ctx, interval); err != nil {
			return Result{}, err
		}
	}

	res.LastSound = lastSound.Sub(start)
	res.SpeechDetected = res.LastSound > MinSpeech
	return res, nil
}
