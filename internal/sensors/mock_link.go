// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockLink generates a smooth synthetic friction trace with periodic
// spikes and the occasional malformed line, so the whole pipeline can be
// exercised without hardware.
type MockLink struct {
	Interval     time.Duration // time between notifications
	SpikeEvery   int           // every Nth sample jumps; 0 disables
	GarbageEvery int           // every Nth sample is invalid UTF-8; 0 disables

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMockLink returns a 50 Hz mock sensor.
func NewMockLink() *MockLink {
	return &MockLink{
		Interval:     20 * time.Millisecond,
		SpikeEvery:   37,
		GarbageEvery: 101,
	}
}

func (m *MockLink) Connect(_ context.Context, onNotify func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return fmt.Errorf("mock link already connected")
	}
	stop := make(chan struct{})
	m.stop = stop

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		start := time.Now()
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			n++
			onNotify(m.payload(n, time.Since(start).Seconds()))
		}
	}()
	return nil
}

func (m *MockLink) payload(n int, elapsed float64) []byte {
	if m.GarbageEvery > 0 && n%m.GarbageEvery == 0 {
		return []byte{0xff, 0xfe, 0x00}
	}
	v := 480 + 60*math.Sin(elapsed*0.8) + 8*math.Cos(elapsed*7.3)
	if m.SpikeEvery > 0 && n%m.SpikeEvery == 0 {
		v += 1500
	}
	return []byte(fmt.Sprintf("%.0f\r\n", v))
}

func (m *MockLink) Disconnect() error {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	m.wg.Wait()
	return nil
}
