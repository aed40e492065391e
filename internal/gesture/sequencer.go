package gesture

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/joss/naobridge/internal/clock"
	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/robot"
)

// LogFunc receives operator-facing progress lines.
type LogFunc func(message string)

// sentencePause follows the rest pose at each sentence boundary.
const sentencePause = 400 * time.Millisecond

// Sequencer speaks text sentence by sentence, dispatching one gesture per
// fragment alongside the speech and returning to rest at every terminal
// punctuation mark.
type Sequencer struct {
	Speech     robot.Speech
	Motion     robot.Motion
	Clock      clock.Clock
	Classifier *Classifier
	// Rand picks left/right pose variants. Only used from the calling goroutine.
	Rand *rand.Rand
	Log  LogFunc

	log *logging.Logger
}

// NewSequencer returns a sequencer using the built-in keyword rules and the
// wall clock.
func NewSequencer(speech robot.Speech, motion robot.Motion) *Sequencer {
	return &Sequencer{
		Speech:     speech,
		Motion:     motion,
		Clock:      clock.Real{},
		Classifier: DefaultClassifier(),
		Rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logging.New("gesture"),
	}
}

// Speak says text. With gestures enabled the text is segmented and each
// fragment gets a gesture; every joint group in robot.GestureGroups is
// de-energized before Speak returns, whatever happened. Only a speech
// failure is returned; actuation failures are logged and skipped.
func (s *Sequencer) Speak(ctx context.Context, text string, enabled bool) error {
	if !enabled {
		if err := s.Speech.Say(ctx, text); err != nil {
			return fmt.Errorf("say: %w", err)
		}
		return nil
	}

	s.logger()
	var pending sync.WaitGroup
	defer func() {
		pending.Wait()
		s.rest(context.WithoutCancel(ctx))
	}()

	for _, tok := range Segment(text) {
		if tok.Punct {
			pending.Wait()
			s.rest(ctx)
			if err := s.clock().Sleep(ctx, sentencePause); err != nil {
				return err
			}
			continue
		}

		if cat := s.classifier().Classify(tok.Text); cat != None {
			s.emit(">>> Gesture: " + string(cat))
			moves := Plan(cat, s.rng())
			pending.Wait()
			pending.Add(1)
			logging.SafeGo("gesture", func() {
				defer pending.Done()
				s.perform(ctx, moves)
			})
		}

		if err := s.Speech.Say(ctx, tok.Text); err != nil {
			return fmt.Errorf("say %q: %w", tok.Text, err)
		}
	}
	return nil
}

// Reset returns arms and head to rest and releases every gesture group.
func (s *Sequencer) Reset(ctx context.Context) {
	s.rest(ctx)
}

func (s *Sequencer) perform(ctx context.Context, moves []Move) {
	l := s.logger()
	for _, g := range gestureStiffness {
		logging.Attempt(l, "energize "+g.Group, func() error {
			return s.Motion.SetStiffnesses(ctx, g.Group, g.Stiffness)
		})
	}
	if err := s.clock().Sleep(ctx, energizeSettle); err != nil {
		return
	}
	s.play(ctx, moves)
}

func (s *Sequencer) play(ctx context.Context, moves []Move) {
	l := s.logger()
	for _, m := range moves {
		logging.Attempt(l, "set angles", func() error {
			return s.Motion.SetAngles(ctx, m.Joints, m.Angles, m.Speed)
		})
		if m.Settle > 0 {
			if err := s.clock().Sleep(ctx, m.Settle); err != nil {
				return
			}
		}
	}
}

func (s *Sequencer) rest(ctx context.Context) {
	s.play(ctx, RestMoves)
	Release(ctx, s.Motion, s.logger())
}

// Release sets zero stiffness on every gesture group. Each group is
// attempted independently.
func Release(ctx context.Context, motion robot.Motion, l *logging.Logger) {
	for _, g := range robot.GestureGroups {
		logging.Attempt(l, "release "+g, func() error {
			return motion.SetStiffnesses(ctx, g, 0)
		})
	}
}

func (s *Sequencer) emit(msg string) {
	if s.Log != nil {
		s.Log(msg)
	}
}

func (s *Sequencer) clock() clock.Clock {
	if s.Clock == nil {
		return clock.Real{}
	}
	return s.Clock
}

func (s *Sequencer) classifier() *Classifier {
	if s.Classifier == nil {
		s.Classifier = DefaultClassifier()
	}
	return s.Classifier
}

func (s *Sequencer) rng() *rand.Rand {
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.Rand
}

func (s *Sequencer) logger() *logging.Logger {
	if s.log == nil {
		s.log = logging.New("gesture")
	}
	return s.log
}
