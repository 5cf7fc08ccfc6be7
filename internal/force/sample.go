// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package force

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	Numeric Kind = iota
	Raw
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "raw"
}

// Value is one decoded notification line: either a number or the raw text
// that could not be parsed as one.
type Value struct {
	Kind   Kind    `json:"kind"`
	Number float64 `json:"number,omitempty"`
	Text   string  `json:"text"` // line as received (trimmed), always set
}

// NumberValue builds a Numeric value.
func NumberValue(v float64) Value {
	return Value{Kind: Numeric, Number: v, Text: strconv.FormatFloat(v, 'f', -1, 64)}
}

// RawValue builds a Raw value.
func RawValue(text string) Value {
	return Value{Kind: Raw, Text: text}
}

// IsNumeric reports whether the value holds a number.
func (v Value) IsNumeric() bool {
	return v.Kind == Numeric
}

func (v Value) String() string {
	return v.Text
}

// Decode turns a notification payload into a Value. It never fails:
// invalid UTF-8 is kept as a quoted literal so the sample still carries
// its arrival time.
func Decode(payload []byte) Value {
	if !utf8.Valid(payload) {
		return RawValue(fmt.Sprintf("%q", payload))
	}
	text := strings.TrimSpace(string(payload))
	if n, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return Value{Kind: Numeric, Number: n, Text: text}
	}
	return RawValue(text)
}

// Sample is one timestamped telemetry reading. Immutable once created.
type Sample struct {
	HostTime time.Time `json:"host_time"`
	Value    Value     `json:"value"`
}

// Seconds returns the host timestamp as float unix seconds.
func (s Sample) Seconds() float64 {
	return float64(s.HostTime.UnixNano()) / 1e9
}
