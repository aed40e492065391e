package conversation

import (
	"context"
	"math"
	"time"

	"github.com/joss/naobridge/internal/logging"
	"github.com/joss/naobridge/internal/robot"
)

// thinkFiller is spoken in the background while the arm is at the chin.
const thinkFiller = "Heummmmmmmmmmmm"

var thinkArm = []string{"RShoulderPitch", "RShoulderRoll", "RElbowYaw", "RElbowRoll", "RWristYaw", "RHand"}

func deg(d float64) float64 { return d * math.Pi / 180 }

// Think plays the "thinking" animation: right hand to the chin, head
// tilted, a murmured filler and a few wrist wiggles. It reports success
// even when the animation fails; arm and head are always released.
func (e *Engine) Think(ctx context.Context, log LogFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	emit := emitter(log)

	s, err := e.require()
	if err != nil {
		return err
	}
	defer e.enter(StateThinking)()

	emit(">>> Thinking animation...")
	ok := e.cosmetic("think animation", func() error { return e.thinkAnimation(ctx, s.robot) })

	h := s.robot
	release := context.WithoutCancel(ctx)
	e.cosmetic("release right arm", func() error { return h.Motion.SetStiffnesses(release, robot.GroupRArm, 0) })
	e.cosmetic("release head", func() error { return h.Motion.SetStiffnesses(release, robot.GroupHead, 0) })

	if ok {
		emit(">>> Animation finished")
	} else {
		emit("X Animation error")
	}
	return nil
}

func (e *Engine) thinkAnimation(ctx context.Context, h *robot.Handles) error {
	m := h.Motion
	move := func(joints []string, angles []float64, speed float64, settle time.Duration) error {
		if err := m.SetAngles(ctx, joints, angles, speed); err != nil {
			return err
		}
		if settle > 0 {
			return e.clock.Sleep(ctx, settle)
		}
		return nil
	}
	one := func(joint string, angle, speed float64) error {
		return m.SetAngles(ctx, []string{joint}, []float64{angle}, speed)
	}

	if err := m.SetStiffnesses(ctx, robot.GroupRArm, 1.0); err != nil {
		return err
	}
	if err := m.SetStiffnesses(ctx, robot.GroupHead, 1.0); err != nil {
		return err
	}
	if err := e.clock.Sleep(ctx, 200*time.Millisecond); err != nil {
		return err
	}

	if err := move(thinkArm, []float64{-1.22, -0.43, 0.22, 1.39, 0.52, 0.2}, 0.2, time.Second); err != nil {
		return err
	}
	if err := one("HeadPitch", 0.2, 0.3); err != nil {
		return err
	}
	if err := move([]string{"HeadYaw"}, []float64{-0.3}, 0.3, 500*time.Millisecond); err != nil {
		return err
	}

	l := e.sessionLog()
	logging.SafeGo("think", func() {
		logging.Attempt(l, "think filler", func() error {
			return h.Speech.Say(context.WithoutCancel(ctx), thinkFiller)
		})
	})

	for i := 0; i < 5; i++ {
		if err := one("RWristYaw", 0.52, 0.8); err != nil {
			return err
		}
		if err := move([]string{"RHand"}, []float64{0.3}, 0.9, 200*time.Millisecond); err != nil {
			return err
		}
		if err := one("RWristYaw", 0.8, 0.52); err != nil {
			return err
		}
		if err := move([]string{"RHand"}, []float64{0.5}, 0.9, 200*time.Millisecond); err != nil {
			return err
		}
	}

	if err := move([]string{"RWristYaw"}, []float64{0}, 0.3, 200*time.Millisecond); err != nil {
		return err
	}
	if err := one("HeadPitch", 0, 0.3); err != nil {
		return err
	}
	if err := move([]string{"HeadYaw"}, []float64{0}, 0.3, 300*time.Millisecond); err != nil {
		return err
	}

	rest := []float64{deg(60.4), deg(-17.0), deg(32.8), deg(88.5), deg(31.6), 0.22}
	return move(thinkArm, rest, 0.8, time.Second)
}
