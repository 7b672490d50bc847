package webcamctl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrUnknownControl  = errors.New("control is not available on device")
	ErrInvalidPosition = errors.New("position is not a number")
	ErrControlDisabled = errors.New("control is disabled while its automatic mode is on")
	ErrNoAdjustment    = errors.New("no adjustment in progress")
)

type EventType string

const (
	EventReloaded  EventType = "reloaded"
	EventCommitted EventType = "committed"
	EventInterlock EventType = "interlock"
	EventAdjusting EventType = "adjusting"
	EventFailed    EventType = "failed"
)

// Event notifies subscribers about controller state changes.
// Value and Position are set for committed and adjusting events,
// Enabled carries the dependent control state for interlock events.
type Event struct {
	Type     EventType `json:"type"`
	Control  string    `json:"control,omitempty"`
	Value    int64     `json:"value"`
	Position float64   `json:"position"`
	Enabled  bool      `json:"enabled"`
	Error    string    `json:"error,omitempty"`
}

type Option func(*Controller)

// WithLogger sets logger for command failures and reload summaries
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInterlock designates the boolean auto control and the numeric control it locks.
// Empty names disable the interlock.
func WithInterlock(autoControl, dependentControl string) Option {
	return func(c *Controller) {
		c.autoControl = autoControl
		c.dependentControl = dependentControl
	}
}

// serializes writes to one control, dropping requests superseded while queued
type controlWriter struct {
	mu        sync.Mutex
	requested atomic.Uint64
}

// Controller keeps the control table of one device in sync with the UI side.
// The table is replaced as a whole by Reload and never modified by writes.
type Controller struct {
	device           Device
	exec             Executor
	logger           *zap.SugaredLogger
	autoControl      string
	dependentControl string

	stateMtx     sync.RWMutex
	table        Table
	reloadSeq    uint64
	appliedSeq   uint64
	autoOn       bool
	interlockSeq uint64
	adjusting    map[string]float64
	bindings     map[string]*ControlBinding

	writersMtx sync.Mutex
	writers    map[string]*controlWriter

	listenersMtx sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

func NewController(device Device, exec Executor, opts ...Option) *Controller {
	c := &Controller{
		device:           device,
		exec:             exec,
		logger:           zap.NewNop().Sugar(),
		autoControl:      ControlWhiteBalanceAutomatic,
		dependentControl: ControlWhiteBalanceTemperature,
		table:            make(Table),
		adjusting:        make(map[string]float64),
		bindings:         make(map[string]*ControlBinding),
		writers:          make(map[string]*controlWriter),
		listeners:        make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get controller for the configured device
func ControllerFromConfig(cfg *Config, exec Executor, logger *zap.SugaredLogger) *Controller {
	return NewController(
		Device{Tool: cfg.ControlTool, Path: cfg.Device},
		exec,
		WithLogger(logger),
		WithInterlock(cfg.Interlock.AutoControl, cfg.Interlock.DependentControl),
	)
}

func (c *Controller) Device() Device {
	return c.device
}

// Reload fetches a fresh listing and replaces the table. On failure the
// previous table stays in place. When reloads overlap the most recently
// started one wins.
func (c *Controller) Reload(ctx context.Context) error {
	c.stateMtx.Lock()
	c.reloadSeq++
	seq := c.reloadSeq
	c.stateMtx.Unlock()

	table, err := c.device.ListControls(ctx, c.exec)
	if err != nil {
		c.logger.Warnw("control listing failed", "device", c.device.Path, "error", err)
		c.emit(Event{Type: EventFailed, Error: err.Error()})
		return fmt.Errorf("failed to list controls of %s: %w", c.device.Path, err)
	}

	c.stateMtx.Lock()
	if seq < c.appliedSeq {
		c.stateMtx.Unlock()
		c.logger.Debugw("discarding stale control listing", "device", c.device.Path, "seq", seq)
		return nil
	}
	c.appliedSeq = seq
	c.table = table
	// an explicit switch made after this reload started is newer than the listing
	if c.autoControl != "" && c.interlockSeq < seq {
		auto, ok := table[c.autoControl]
		c.autoOn = ok && auto.Value != 0
	}
	c.stateMtx.Unlock()

	c.logger.Infow("controls reloaded", "device", c.device.Path, "count", len(table))
	c.refreshBindings()
	c.emit(Event{Type: EventReloaded})
	return nil
}

// Table returns a copy of the current control table
func (c *Controller) Table() Table {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()
	return c.table.Clone()
}

func (c *Controller) Control(name string) (Control, bool) {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()
	control, ok := c.table[name]
	return control, ok
}

// Position returns the normalized position of the cached value, false if the
// control is unavailable
func (c *Controller) Position(name string) (float64, bool) {
	control, ok := c.Control(name)
	if !ok {
		return 0, false
	}
	return control.Position(), true
}

// Enabled reports whether user edits of the control are allowed
func (c *Controller) Enabled(name string) bool {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()
	return c.enabledLocked(name)
}

func (c *Controller) enabledLocked(name string) bool {
	return !(c.autoOn && name != "" && name == c.dependentControl)
}

// Commit writes the device value derived from a normalized position.
// Positions outside [0,1] are clamped.
func (c *Controller) Commit(ctx context.Context, name string, pos float64) error {
	_, _, err := c.CommitValue(ctx, name, pos)
	return err
}

// CommitValue is Commit reporting the device value derived from pos and
// whether it reached the device. written is false when a newer request for
// the same control superseded this one while it was queued. Committing the
// interlock's auto control goes through SetBoolean.
func (c *Controller) CommitValue(ctx context.Context, name string, pos float64) (value int64, written bool, err error) {
	if math.IsNaN(pos) {
		return 0, false, ErrInvalidPosition
	}
	c.stateMtx.RLock()
	control, ok := c.table[name]
	enabled := c.enabledLocked(name)
	c.stateMtx.RUnlock()
	if !ok {
		return 0, false, fmt.Errorf("%s: %w", name, ErrUnknownControl)
	}
	if !enabled {
		return 0, false, fmt.Errorf("%s: %w", name, ErrControlDisabled)
	}

	value = control.ValueAt(pos)
	if name != "" && name == c.autoControl {
		on := value != 0
		written, err = c.setBoolean(ctx, name, on)
		return boolValue(on), written, err
	}
	written, err = c.write(ctx, name, value)
	if err != nil {
		return value, false, err
	}
	if written {
		c.emit(Event{Type: EventCommitted, Control: name, Value: value, Position: clampPosition(pos)})
	}
	return value, written, nil
}

// SetBoolean writes 1 or 0 to the control. Switching the auto control
// updates the interlock immediately and keeps it even if the write fails.
func (c *Controller) SetBoolean(ctx context.Context, name string, on bool) error {
	_, err := c.setBoolean(ctx, name, on)
	return err
}

func (c *Controller) setBoolean(ctx context.Context, name string, on bool) (bool, error) {
	if name != "" && name == c.autoControl {
		c.stateMtx.Lock()
		c.autoOn = on
		c.interlockSeq = c.reloadSeq
		if on {
			delete(c.adjusting, c.dependentControl)
		}
		c.stateMtx.Unlock()
		c.refreshBinding(c.dependentControl)
		c.emit(Event{Type: EventInterlock, Control: c.dependentControl, Enabled: !on})
	}

	value := boolValue(on)
	written, err := c.write(ctx, name, value)
	if err != nil {
		return false, err
	}
	if written {
		c.emit(Event{Type: EventCommitted, Control: name, Value: value, Position: float64(value)})
	}
	return written, nil
}

func boolValue(on bool) int64 {
	if on {
		return 1
	}
	return 0
}

// BeginAdjust starts a continuous adjustment. Intermediate positions are only
// shown through bindings and events until CommitAdjust.
func (c *Controller) BeginAdjust(name string) error {
	c.stateMtx.Lock()
	defer c.stateMtx.Unlock()
	control, ok := c.table[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownControl)
	}
	if !c.enabledLocked(name) {
		return fmt.Errorf("%s: %w", name, ErrControlDisabled)
	}
	c.adjusting[name] = control.Position()
	return nil
}

// UpdateAdjust records an intermediate position, never writes to device
func (c *Controller) UpdateAdjust(name string, pos float64) error {
	if math.IsNaN(pos) {
		return ErrInvalidPosition
	}
	pos = clampPosition(pos)
	c.stateMtx.Lock()
	if _, ok := c.adjusting[name]; !ok {
		c.stateMtx.Unlock()
		return fmt.Errorf("%s: %w", name, ErrNoAdjustment)
	}
	c.adjusting[name] = pos
	control := c.table[name]
	c.stateMtx.Unlock()

	c.refreshBinding(name)
	c.emit(Event{Type: EventAdjusting, Control: name, Value: control.ValueAt(pos), Position: pos})
	return nil
}

// CommitAdjust ends the adjustment and writes its last position once
func (c *Controller) CommitAdjust(ctx context.Context, name string) error {
	c.stateMtx.Lock()
	pos, ok := c.adjusting[name]
	delete(c.adjusting, name)
	c.stateMtx.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNoAdjustment)
	}
	return c.Commit(ctx, name, pos)
}

// CancelAdjust drops the adjustment without writing
func (c *Controller) CancelAdjust(name string) {
	c.stateMtx.Lock()
	delete(c.adjusting, name)
	c.stateMtx.Unlock()
	c.refreshBinding(name)
}

// Adjusting returns the transient position of an adjustment in progress
func (c *Controller) Adjusting(name string) (float64, bool) {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()
	pos, ok := c.adjusting[name]
	return pos, ok
}

func (c *Controller) writer(name string) *controlWriter {
	c.writersMtx.Lock()
	defer c.writersMtx.Unlock()
	w, ok := c.writers[name]
	if !ok {
		w = &controlWriter{}
		c.writers[name] = w
	}
	return w
}

// Write value, one command per control at a time. Reports false when a newer
// request for the same control arrived before this one got its turn.
// Listeners are notified of failures after the control is released.
func (c *Controller) write(ctx context.Context, name string, value int64) (bool, error) {
	written, err := c.writeSerialized(ctx, name, value)
	if err != nil {
		c.emit(Event{Type: EventFailed, Control: name, Value: value, Error: err.Error()})
		return false, fmt.Errorf("failed to set %s=%d: %w", name, value, err)
	}
	return written, nil
}

func (c *Controller) writeSerialized(ctx context.Context, name string, value int64) (bool, error) {
	w := c.writer(name)
	seq := w.requested.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.requested.Load() != seq {
		c.logger.Debugw("control write superseded", "control", name, "value", value)
		return false, nil
	}
	if err := c.device.SetControl(ctx, c.exec, name, value); err != nil {
		c.logger.Warnw("control write failed", "device", c.device.Path, "control", name, "value", value, "error", err)
		return false, err
	}
	c.logger.Debugw("control written", "device", c.device.Path, "control", name, "value", value)
	return true, nil
}

// Subscribe registers fn for all subsequent events; call the returned
// function to unsubscribe. fn runs on the goroutine causing the event.
func (c *Controller) Subscribe(fn func(Event)) (cancel func()) {
	c.listenersMtx.Lock()
	defer c.listenersMtx.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.listenersMtx.Lock()
		defer c.listenersMtx.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Controller) emit(ev Event) {
	c.listenersMtx.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMtx.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
