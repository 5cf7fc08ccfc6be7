// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction of travel understood by the motor firmware.
type Direction int

const (
	Reverse Direction = 0
	Forward Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == Forward || d == Reverse
}

// ParseDirection accepts "forward"/"reverse" (any case) or "1"/"0".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd", "1":
		return Forward, nil
	case "reverse", "rev", "0":
		return Reverse, nil
	}
	return 0, fmt.Errorf("invalid direction %q (want forward|reverse|1|0)", s)
}

// Command is one move request. It is a pure value.
type Command struct {
	DistanceCM float64
	SpeedMPS   float64
	Direction  Direction
}

// String serializes the command into the firmware REPL call, without the
// line terminator.
func (c Command) String() string {
	return fmt.Sprintf("motor.move_at_speed(%s, %s, %d)",
		pyFloat(c.DistanceCM), pyFloat(c.SpeedMPS), int(c.Direction))
}

// pyFloat formats v the way the REPL echoes floats: 100 -> "100.0".
func pyFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
