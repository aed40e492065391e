package gesture

import (
	"math/rand"
	"time"

	"github.com/joss/naobridge/internal/robot"
)

// Move is one pose command. Settle is how long to wait after issuing it;
// zero means the move is dispatched and left running.
type Move struct {
	Joints []string
	Angles []float64
	Speed  float64
	Settle time.Duration
}

// Stiffness applied to each joint group before gesturing.
var gestureStiffness = []struct {
	Group     string
	Stiffness float64
}{
	{robot.GroupLArm, 0.8},
	{robot.GroupRArm, 0.8},
	{robot.GroupHead, 0.6},
	{robot.GroupLLeg, 1.0},
	{robot.GroupRLeg, 1.0},
}

const energizeSettle = 100 * time.Millisecond

var (
	bothArmsHead = []string{
		"LShoulderPitch", "LShoulderRoll", "LElbowRoll", "LElbowYaw",
		"RShoulderPitch", "RShoulderRoll", "RElbowRoll", "RElbowYaw",
		"HeadPitch", "HeadYaw",
	}
	emphasisJoints = []string{
		"LShoulderPitch", "LShoulderRoll", "LElbowRoll",
		"RShoulderPitch", "RShoulderRoll", "RElbowRoll",
		"HeadPitch", "HeadYaw",
	}
	leftQuestion  = []string{"LShoulderPitch", "LShoulderRoll", "LElbowRoll", "LElbowYaw", "HeadPitch", "HeadYaw"}
	rightQuestion = []string{"RShoulderPitch", "RShoulderRoll", "RElbowRoll", "RElbowYaw", "HeadPitch", "HeadYaw"}
	leftNeutral   = []string{"LShoulderPitch", "LShoulderRoll", "LElbowRoll", "HeadYaw"}
	rightNeutral  = []string{"RShoulderPitch", "RShoulderRoll", "RElbowRoll", "HeadYaw"}
)

// RestMoves brings arms and head back to the rest pose via a midpoint.
var RestMoves = []Move{
	{Joints: bothArmsHead, Angles: []float64{0.3, 0.05, -0.5, -0.3, 0.3, -0.05, 0.5, 0.3, 0, 0}, Speed: 0.12, Settle: 500 * time.Millisecond},
	{Joints: bothArmsHead, Angles: []float64{1.0, 0.1, -1.0, -0.5, 1.0, -0.1, 1.0, 0.5, 0, 0}, Speed: 0.12, Settle: 800 * time.Millisecond},
}

// Plan returns the moves for a category. Left/right and head direction
// variants are picked with rng.
func Plan(cat Category, rng *rand.Rand) []Move {
	switch cat {
	case Explain:
		return []Move{
			{Joints: bothArmsHead, Angles: []float64{0.0, 0.3, -0.2, -0.4, 0.0, -0.3, 0.2, 0.4, -0.05, 0.0}, Speed: 0.12, Settle: 500 * time.Millisecond},
			{Joints: bothArmsHead, Angles: []float64{-0.2, 0.6, -0.4, -0.8, -0.2, -0.6, 0.4, 0.8, -0.1, 0.0}, Speed: 0.12},
		}
	case Question:
		if rng.Intn(2) == 0 {
			return []Move{
				{Joints: leftQuestion, Angles: []float64{-0.1, 0.3, -0.6, -0.3, 0.05, 0.1}, Speed: 0.12, Settle: 400 * time.Millisecond},
				{Joints: leftQuestion, Angles: []float64{-0.4, 0.5, -1.2, -0.5, 0.1, 0.2}, Speed: 0.12},
			}
		}
		return []Move{
			{Joints: rightQuestion, Angles: []float64{-0.1, -0.3, 0.6, 0.3, 0.05, -0.1}, Speed: 0.12, Settle: 400 * time.Millisecond},
			{Joints: rightQuestion, Angles: []float64{-0.4, -0.5, 1.2, 0.5, 0.1, -0.2}, Speed: 0.12},
		}
	case Emphasis:
		return []Move{
			{Joints: emphasisJoints, Angles: []float64{0.0, 0.3, -0.3, 0.0, -0.3, 0.3, -0.08, 0.0}, Speed: 0.08, Settle: 500 * time.Millisecond},
			{Joints: emphasisJoints, Angles: []float64{-0.2, 0.5, -0.5, -0.2, -0.5, 0.5, -0.15, 0.0}, Speed: 0.08, Settle: 500 * time.Millisecond},
			{Joints: emphasisJoints, Angles: []float64{-0.3, 0.4, -0.6, -0.3, -0.4, 0.6, 0.0, 0.0}, Speed: 0.12},
		}
	case Neutral:
		yaw := 0.15
		if rng.Intn(2) == 0 {
			yaw = -yaw
		}
		if rng.Intn(2) == 0 {
			return []Move{
				{Joints: leftNeutral, Angles: []float64{0.0, 0.2, -0.3, yaw * 0.5}, Speed: 0.08, Settle: 400 * time.Millisecond},
				{Joints: leftNeutral, Angles: []float64{-0.2, 0.4, -0.5, yaw}, Speed: 0.08},
			}
		}
		return []Move{
			{Joints: rightNeutral, Angles: []float64{0.0, -0.2, 0.3, yaw * 0.5}, Speed: 0.08, Settle: 400 * time.Millisecond},
			{Joints: rightNeutral, Angles: []float64{-0.2, -0.4, 0.5, yaw}, Speed: 0.08},
		}
	}
	return nil
}
