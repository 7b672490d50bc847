package webcamctl

import (
	"fyne.io/fyne/v2/data/binding"
)

// ControlBinding exposes the UI-facing state of one control as fyne data
// bindings, so any widget toolkit built on them can follow the controller
type ControlBinding struct {
	Name      string
	Position  binding.Float
	Enabled   binding.Bool
	Available binding.Bool
}

// Bind returns the bindings of the named control, creating them on first use.
// The control does not need to exist yet; Available follows reloads.
func (c *Controller) Bind(name string) *ControlBinding {
	c.stateMtx.Lock()
	b, ok := c.bindings[name]
	if !ok {
		b = &ControlBinding{
			Name:      name,
			Position:  binding.NewFloat(),
			Enabled:   binding.NewBool(),
			Available: binding.NewBool(),
		}
		c.bindings[name] = b
	}
	c.stateMtx.Unlock()
	c.refreshBinding(name)
	return b
}

type bindingState struct {
	binding   *ControlBinding
	position  float64
	enabled   bool
	available bool
}

// state shown for a control: transient adjustment first, cached value otherwise
func (c *Controller) bindingStateLocked(name string) (bindingState, bool) {
	b, ok := c.bindings[name]
	if !ok {
		return bindingState{}, false
	}
	control, available := c.table[name]
	pos, adjusting := c.adjusting[name]
	if !adjusting {
		pos = control.Position()
	}
	return bindingState{
		binding:   b,
		position:  pos,
		enabled:   available && c.enabledLocked(name),
		available: available,
	}, true
}

func (c *Controller) refreshBinding(name string) {
	c.stateMtx.RLock()
	st, ok := c.bindingStateLocked(name)
	c.stateMtx.RUnlock()
	if ok {
		st.apply(c)
	}
}

func (c *Controller) refreshBindings() {
	c.stateMtx.RLock()
	states := make([]bindingState, 0, len(c.bindings))
	for name := range c.bindings {
		if st, ok := c.bindingStateLocked(name); ok {
			states = append(states, st)
		}
	}
	c.stateMtx.RUnlock()
	for _, st := range states {
		st.apply(c)
	}
}

func (st bindingState) apply(c *Controller) {
	for _, err := range []error{
		st.binding.Available.Set(st.available),
		st.binding.Enabled.Set(st.enabled),
		st.binding.Position.Set(st.position),
	} {
		if err != nil {
			c.logger.Warnw("binding update failed", "control", st.binding.Name, "error", err)
		}
	}
}
