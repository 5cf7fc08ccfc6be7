// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recording runs one grip measurement end to end: arm the force
// sensor, send the move, wait out the estimated motion time, disarm, despike
// and save.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/grip_recorder/internal/catalog"
	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/filter"
	"github.com/relabs-tech/grip_recorder/internal/motion"
	"github.com/relabs-tech/grip_recorder/internal/readings"
	"github.com/relabs-tech/grip_recorder/internal/sensors"
)

// Mover sends motor commands. *motion.Controller in production.
type Mover interface {
	Send(ctx context.Context, cmd motion.Command) (string, error)
}

// Capturer arms and disarms telemetry capture. *sensors.ForceSensor in
// production.
type Capturer interface {
	Arm(ctx context.Context) (time.Time, error)
	Disarm(ctx context.Context) (sensors.Capture, error)
}

// Persister writes finished captures. *readings.Writer in production.
type Persister interface {
	Write(meta readings.Metadata, rows []readings.Row) (readings.Artifact, error)
}

// Indexer records runs in the catalog. Optional.
type Indexer interface {
	Record(ctx context.Context, e catalog.Entry) error
}

// Options are the timing and filter settings of a run.
type Options struct {
	ArmTimeout     time.Duration
	CommandTimeout time.Duration
	MotionMinFloor time.Duration
	MotionMargin   time.Duration
	MaxSpeedMPS    float64
	Window         filter.Window
}

// OptionsFromConfig maps the run keys of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ArmTimeout:     cfg.ArmTimeout,
		CommandTimeout: cfg.CommandTimeout,
		MotionMinFloor: cfg.MotionMinFloor,
		MotionMargin:   cfg.MotionMargin,
		MaxSpeedMPS:    cfg.MaxSpeedMPS,
		Window:         filter.Window{Size: cfg.FilterWindowSize, NSigmas: cfg.FilterNSigmas},
	}
}

type motionJob struct {
	ctx   context.Context
	cmd   motion.Command
	reply chan motionReply
}

type motionReply struct {
	resp string
	err  error
}

// Orchestrator sequences runs. Only one run is active at a time. Motor
// commands go through a single worker goroutine so a slow serial exchange
// never holds up the caller's cancellation or the sensor actor.
type Orchestrator struct {
	opts      Options
	motor     Mover
	sensor    Capturer
	writer    Persister
	index     Indexer
	observers []Observer

	jobs      chan motionJob
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	state   State
	running bool
	abort   chan struct{}
	aborted bool
	waited  bool // the open-loop wait of the active run has ended
}

// New starts the motion worker. index may be nil.
func New(opts Options, motor Mover, sensor Capturer, writer Persister, index Indexer, observers ...Observer) *Orchestrator {
	o := &Orchestrator{
		opts:      opts,
		motor:     motor,
		sensor:    sensor,
		writer:    writer,
		index:     index,
		observers: observers,
		jobs:      make(chan motionJob),
		quit:      make(chan struct{}),
	}
	o.wg.Add(1)
	go o.motionWorker()
	return o
}

// Subscribe adds an observer. Call before the first Run.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Close stops the motion worker, waiting for a command in flight to hit
// its timeout.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.quit) })
	o.wg.Wait()
}

// State returns the current stage, or the terminal state of the last run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Abort ends the open-loop wait of the active run early; the run still
// disarms and saves what it captured. It reports false when idle or once the
// wait is over, since the run is already stopping.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.aborted || o.waited {
		return false
	}
	o.aborted = true
	close(o.abort)
	log.Printf("recording: abort requested")
	return true
}

func (o *Orchestrator) motionWorker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.quit:
			return
		case job := <-o.jobs:
			resp, err := o.motor.Send(job.ctx, job.cmd)
			job.reply <- motionReply{resp: resp, err: err}
		}
	}
}

// dispatch hands cmd to the worker and waits for its reply, both bounded by
// ctx.
func (o *Orchestrator) dispatch(ctx context.Context, cmd motion.Command) (string, error) {
	job := motionJob{ctx: ctx, cmd: cmd, reply: make(chan motionReply, 1)}
	select {
	case o.jobs <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-o.quit:
		return "", errors.New("orchestrator closed")
	}
	select {
	case r := <-job.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run holds the per-run bookkeeping.
type run struct {
	o             *Orchestrator
	res           *Result
	disarmAttempt bool
}

// Run executes one measurement. The returned Result is never nil; err is
// nil for a completed run, including an aborted one and one with nothing to
// persist.
func (o *Orchestrator) Run(ctx context.Context, p Params) (*Result, error) {
	res, abort, err := o.reserve(p)
	if err != nil {
		return res, err
	}
	return o.execute(ctx, res, abort)
}

// Go validates p and claims the run slot synchronously, then runs in the
// background. The channel delivers the Result once the run ends.
func (o *Orchestrator) Go(ctx context.Context, p Params) (string, <-chan *Result, error) {
	res, abort, err := o.reserve(p)
	if err != nil {
		return res.SessionID, nil, err
	}
	done := make(chan *Result, 1)
	go func() {
		r, _ := o.execute(ctx, res, abort)
		done <- r
	}()
	return res.SessionID, done, nil
}

func (o *Orchestrator) reserve(p Params) (*Result, chan struct{}, error) {
	res := &Result{SessionID: uuid.NewString(), State: Idle, Params: p}

	if err := p.Validate(o.opts.MaxSpeedMPS); err != nil {
		res.Cause = err.Error()
		res.Finished = time.Now()
		log.Printf("recording: rejected: %v", err)
		return res, nil, err
	}
	if err := o.opts.Window.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrValidation, err)
		res.Cause = err.Error()
		res.Finished = time.Now()
		log.Printf("recording: rejected: %v", err)
		return res, nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		res.Cause = ErrBusy.Error()
		res.Finished = time.Now()
		return res, nil, ErrBusy
	}
	o.running = true
	o.aborted = false
	o.waited = false
	o.abort = make(chan struct{})
	return res, o.abort, nil
}

func (o *Orchestrator) execute(ctx context.Context, res *Result, abort <-chan struct{}) (*Result, error) {
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	p := res.Params
	r := &run{o: o, res: res}
	log.Printf("recording: session %s: %.1f cm at %.2f m/s, %s", res.SessionID, p.DistanceCM, p.SpeedMPS, p.Direction)

	// Arming
	r.enter(Arming, "arming sensor")
	actx, cancel := context.WithTimeout(ctx, o.opts.ArmTimeout)
	start, err := o.sensor.Arm(actx)
	cancel()
	if err != nil {
		return r.fail(ctx, classify("arm", ctx, err))
	}
	res.Start = start

	// Moving
	cmd := p.Command()
	r.enter(Moving, "sending "+cmd.String())
	mctx, cancel := context.WithTimeout(ctx, o.opts.CommandTimeout)
	resp, err := o.dispatch(mctx, cmd)
	cancel()
	if err != nil {
		return r.fail(ctx, classify("send", ctx, err))
	}
	res.Response = resp
	if trimmed := strings.TrimSpace(resp); trimmed != "" {
		log.Printf("recording: motor replied: %q", trimmed)
	}

	// open-loop wait
	res.Wait = MotionDuration(p.DistanceCM, p.SpeedMPS, o.opts.MotionMinFloor, o.opts.MotionMargin)
	r.enter(Waiting, fmt.Sprintf("waiting %s for the move to finish", res.Wait))
	timer := time.NewTimer(res.Wait)
	select {
	case <-timer.C:
	case <-abort:
		timer.Stop()
		res.Aborted = true
	case <-ctx.Done():
		timer.Stop()
		res.Aborted = true
		log.Printf("recording: wait interrupted: %v", ctx.Err())
	}
	o.mu.Lock()
	o.waited = true
	if o.aborted {
		// accepted just as the timer fired
		res.Aborted = true
	}
	o.mu.Unlock()

	// Stopping, on a context that survives cancellation of ctx
	r.enter(Stopping, "disarming sensor")
	capture, err := r.disarm(ctx)
	if err != nil {
		return r.fail(ctx, classify("disarm", nil, err))
	}
	res.Samples = capture.Received
	res.Retained = len(capture.Samples)
	res.Dropped = capture.Dropped

	// Finalizing
	r.enter(Finalizing, fmt.Sprintf("filtering %d samples", res.Retained))
	rows := o.despike(capture)
	for _, row := range rows {
		if !row.HasFiltered {
			res.NonNumeric++
		}
	}
	meta := readings.Metadata{
		SessionID:  res.SessionID,
		Start:      start,
		DistanceCM: p.DistanceCM,
		SpeedMPS:   p.SpeedMPS,
		Direction:  p.Direction.String(),
		Window:     o.opts.Window,
		Dropped:    capture.Dropped,
		Aborted:    res.Aborted,
	}
	art, err := o.writer.Write(meta, rows)
	switch {
	case errors.Is(err, readings.ErrNothingToPersist):
		log.Printf("recording: session %s: no samples after start, nothing saved", res.SessionID)
	case err != nil:
		return r.fail(ctx, fmt.Errorf("%w: %w", ErrPersistence, err))
	default:
		res.Artifact = art
		res.Persisted = true
	}

	res.State = Idle
	res.Finished = time.Now()
	o.record(ctx, res)
	r.finish(Idle, summary(res))
	return res, nil
}

func (o *Orchestrator) despike(c sensors.Capture) []readings.Row {
	values := make([]float64, 0, len(c.Samples))
	for _, s := range c.Samples {
		if s.Value.IsNumeric() {
			values = append(values, s.Value.Number)
		}
	}
	filtered := filter.Despike(values, o.opts.Window)

	rows := make([]readings.Row, len(c.Samples))
	j := 0
	for i, s := range c.Samples {
		rows[i].Sample = s
		if s.Value.IsNumeric() {
			rows[i].Filtered = filtered[j]
			rows[i].HasFiltered = true
			j++
		}
	}
	return rows
}

func (o *Orchestrator) record(ctx context.Context, res *Result) {
	if o.index == nil {
		return
	}
	e := catalog.Entry{
		SessionID:  res.SessionID,
		Start:      res.Start,
		DistanceCM: res.Params.DistanceCM,
		SpeedMPS:   res.Params.SpeedMPS,
		Direction:  res.Params.Direction.String(),
		File:       res.Artifact.Path,
		Samples:    res.Retained,
		NonNumeric: res.NonNumeric,
		Dropped:    res.Dropped,
		State:      res.State.String(),
		Aborted:    res.Aborted,
		Cause:      res.Cause,
	}
	if e.Start.IsZero() {
		e.Start = res.Finished
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.index.Record(cctx, e); err != nil {
		log.Printf("recording: catalog: %v", err)
	}
}

func (r *run) enter(s State, msg string) {
	r.o.publish(r.res.SessionID, s, msg, nil)
}

func (r *run) finish(s State, msg string) {
	r.o.publish(r.res.SessionID, s, msg, r.res)
}

// disarm is attempted at most once per run.
func (r *run) disarm(ctx context.Context) (sensors.Capture, error) {
	r.disarmAttempt = true
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.opts.ArmTimeout)
	defer cancel()
	return r.o.sensor.Disarm(dctx)
}

func (r *run) fail(ctx context.Context, cause error) (*Result, error) {
	if !r.disarmAttempt {
		if _, err := r.disarm(ctx); err != nil {
			log.Printf("recording: cleanup disarm failed: %v", err)
		} else {
			log.Printf("recording: cleanup disarm done")
		}
	}
	r.res.State = Failed
	r.res.Cause = cause.Error()
	r.res.Finished = time.Now()
	log.Printf("recording: session %s failed: %v", r.res.SessionID, cause)
	r.o.record(ctx, r.res)
	r.finish(Failed, r.res.Cause)
	return r.res, cause
}

func (o *Orchestrator) publish(id string, s State, msg string, res *Result) {
	o.mu.Lock()
	o.state = s
	observers := o.observers
	o.mu.Unlock()

	if res == nil {
		log.Printf("recording: %s: %s", s, msg)
	}
	e := Event{SessionID: id, State: s, Time: time.Now(), Message: msg, Result: res}
	for _, obs := range observers {
		obs.OnEvent(e)
	}
}

// classify maps a stage error onto the run error sentinels, keeping the
// cause in the chain. parent is the caller's context, nil when the stage ran
// on its own.
func classify(stage string, parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && (parent == nil || parent.Err() == nil) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, stage, err)
	}
	if errors.Is(err, context.Canceled) || (parent != nil && parent.Err() != nil) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransportIO, stage, err)
}

func summary(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d samples kept", res.Retained)
	if res.NonNumeric > 0 {
		fmt.Fprintf(&b, ", %d non-numeric", res.NonNumeric)
	}
	if res.Dropped > 0 {
		fmt.Fprintf(&b, ", %d dropped", res.Dropped)
	}
	if res.Aborted {
		b.WriteString(", aborted")
	}
	if res.Persisted {
		fmt.Fprintf(&b, ", saved to %s", res.Artifact.Path)
	} else {
		b.WriteString(", nothing saved")
	}
	return b.String()
}
