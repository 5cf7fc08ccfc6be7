package force

import "time"

// Buffer is the append-only record of one capture window plus its
// recording-epoch marker. It is not safe for concurrent use; the sensor
// actor owns it.
type Buffer struct {
	start   time.Time
	samples []Sample
}

// Reset discards everything and starts a new window at start.
func (b *Buffer) Reset(start time.Time) {
	b.start = start
	b.samples = b.samples[:0]
}

// Clear discards the samples and the epoch marker.
func (b *Buffer) Clear() {
	b.start = time.Time{}
	b.samples = nil
}

// Append records a sample in arrival order.
func (b *Buffer) Append(s Sample) {
	b.samples = append(b.samples, s)
}

// Start returns the epoch marker.
func (b *Buffer) Start() time.Time {
	return b.start
}

// Len returns the number of appended samples, retained or not.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Retained returns a copy of the samples stamped at or after the epoch,
// in arrival order. Earlier samples are skipped, never altered.
func (b *Buffer) Retained() []Sample {
	out := make([]Sample, 0, len(b.samples))
	for _, s := range b.samples {
		if !s.HostTime.Before(b.start) {
			out = append(out, s)
		}
	}
	return out
}
