package filter

import (
	"testing"
)

var defaultWindow = Window{Size: 5, NSigmas: 3}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDespike_ConstantIsIdentity(t *testing.T) {
	in := []float64{7, 7, 7, 7, 7, 7, 7}
	out := Despike(in, defaultWindow)
	if !equal(in, out) {
		t.Errorf("Despike(constant) = %v, want %v", out, in)
	}
	again := Despike(out, defaultWindow)
	if !equal(out, again) {
		t.Errorf("second pass = %v, want %v", again, out)
	}
}

func TestDespike_ReplacesSpike(t *testing.T) {
	in := []float64{10, 11, 10, 12, 500, 11, 10, 12, 11}
	out := Despike(in, defaultWindow)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	// window around index 4 is {10, 12, 500, 11, 10}: median 11
	if out[4] != 11 {
		t.Errorf("out[4] = %g, want 11", out[4])
	}
	for i, v := range in {
		if i == 4 {
			continue
		}
		if out[i] != v {
			t.Errorf("out[%d] = %g, want untouched %g", i, out[i], v)
		}
	}
	if in[4] != 500 {
		t.Error("input slice must not be modified")
	}
}

func TestDespike_ZeroMADLeavesPoint(t *testing.T) {
	// window around index 2 is {5, 5, 9, 5, 5}: median 5, MAD 0
	in := []float64{5, 5, 9, 5, 5}
	out := Despike(in, defaultWindow)
	if out[2] != 9 {
		t.Errorf("out[2] = %g, want 9 (zero MAD is a no-op)", out[2])
	}
}

func TestDespike_EdgesUseClippedWindow(t *testing.T) {
	// index 0 window is {100, 1, 2}: median 2, MAD 1 -> 98 > 3*1.4826
	in := []float64{100, 1, 2, 3, 2, 1, 2}
	out := Despike(in, defaultWindow)
	if out[0] != 2 {
		t.Errorf("out[0] = %g, want 2", out[0])
	}
	if len(out) != len(in) {
		t.Errorf("len = %d, want %d", len(out), len(in))
	}
}

func TestDespike_ShortAndEmpty(t *testing.T) {
	if out := Despike(nil, defaultWindow); len(out) != 0 {
		t.Errorf("Despike(nil) = %v", out)
	}
	one := []float64{42}
	if out := Despike(one, defaultWindow); !equal(out, one) {
		t.Errorf("Despike(single) = %v", out)
	}
	w1 := Window{Size: 1, NSigmas: 3}
	in := []float64{1, 100, 1}
	if out := Despike(in, w1); !equal(out, in) {
		t.Errorf("window of one must be identity, got %v", out)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		if got := Median(append([]float64(nil), tt.in...)); got != tt.want {
			t.Errorf("Median(%v) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestWindowValidate(t *testing.T) {
	tests := []struct {
		w     Window
		valid bool
	}{
		{Window{5, 3}, true},
		{Window{1, 0.5}, true},
		{Window{4, 3}, false},
		{Window{0, 3}, false},
		{Window{-3, 3}, false},
		{Window{5, 0}, false},
	}
	for _, tt := range tests {
		err := tt.w.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("Validate(%+v) = %v, want valid=%v", tt.w, err, tt.valid)
		}
	}
}

func TestDespike_InvalidWindowLeavesInput(t *testing.T) {
	in := []float64{1, 2, 100, 3, 4}
	for _, w := range []Window{{-3, 3}, {0, 3}, {4, 3}, {5, 0}} {
		got := Despike(in, w)
		if !equal(got, in) {
			t.Errorf("Despike(%+v) = %v, want input unchanged", w, got)
		}
	}
}
