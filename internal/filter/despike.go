// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter removes isolated spikes from a finished force trace using a
// centered median / MAD window (Hampel filter).
package filter

import (
	"fmt"
	"math"
	"sort"
)

// MADScale converts a median absolute deviation to a normal-equivalent
// standard deviation.
const MADScale = 1.4826

// Window holds the despiking parameters.
type Window struct {
	Size    int     `json:"window_size"` // odd, >= 1
	NSigmas float64 `json:"n_sigmas"`    // > 0
}

// Validate checks the window parameters.
func (w Window) Validate() error {
	if w.Size <= 0 || w.Size%2 == 0 {
		return fmt.Errorf("filter: window size must be an odd positive integer, got %d", w.Size)
	}
	if w.NSigmas <= 0 || math.IsNaN(w.NSigmas) {
		return fmt.Errorf("filter: n_sigmas must be positive, got %g", w.NSigmas)
	}
	return nil
}

// Despike returns a same-length copy of values where every point farther
// than NSigmas scaled MADs from its window median is replaced by that median.
// Windows are centered and clipped at the ends. Statistics always come from
// the unmodified input. A window with zero MAD leaves its point untouched.
// An invalid window returns the copy unchanged; callers check Validate first.
func Despike(values []float64, w Window) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if len(values) == 0 || w.Validate() != nil {
		return out
	}

	half := w.Size / 2
	scratch := make([]float64, 0, w.Size)
	for i, v := range values {
		lo := max(0, i-half)
		hi := min(len(values), i+half+1)

		scratch = append(scratch[:0], values[lo:hi]...)
		med := Median(scratch)

		for j := range scratch {
			scratch[j] = math.Abs(scratch[j] - med)
		}
		mad := Median(scratch)
		if mad == 0 {
			continue
		}

		if math.Abs(v-med) > w.NSigmas*MADScale*mad {
			out[i] = med
		}
	}
	return out
}

// Median returns the median of xs, reordering xs in place.
// An even count yields the mean of the two middle values; empty input yields 0.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sort.Float64s(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
