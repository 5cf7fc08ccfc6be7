// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recording

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/grip_recorder/internal/motion"
)

// DefaultMaxSpeed bounds SpeedMPS when no limit is configured.
const DefaultMaxSpeed = 1.0

// Params are the caller-supplied run parameters.
type Params struct {
	DistanceCM float64          `json:"distance_cm"`
	SpeedMPS   float64          `json:"speed_mps"`
	Direction  motion.Direction `json:"direction"`
}

// Validate checks distance > 0, 0 < speed <= maxSpeed and a known direction.
// Errors wrap ErrValidation.
func (p Params) Validate(maxSpeed float64) error {
	if maxSpeed <= 0 {
		maxSpeed = DefaultMaxSpeed
	}
	if !(p.DistanceCM > 0) || math.IsInf(p.DistanceCM, 0) {
		return fmt.Errorf("%w: distance must be positive, got %g cm", ErrValidation, p.DistanceCM)
	}
	if !(p.SpeedMPS > 0) || p.SpeedMPS > maxSpeed {
		return fmt.Errorf("%w: speed must be in (0, %g] m/s, got %g", ErrValidation, maxSpeed, p.SpeedMPS)
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %d", ErrValidation, int(p.Direction))
	}
	return nil
}

// Command is the motor command for these parameters.
func (p Params) Command() motion.Command {
	return motion.Command{DistanceCM: p.DistanceCM, SpeedMPS: p.SpeedMPS, Direction: p.Direction}
}

// MotionDuration estimates how long the move takes:
// max(floor, distance / (speed * 100)) + margin, speed in m/s, distance in cm.
func MotionDuration(distanceCM, speedMPS float64, floor, margin time.Duration) time.Duration {
	travel := time.Duration(distanceCM / (speedMPS * 100) * float64(time.Second))
	return max(floor, travel) + margin
}
