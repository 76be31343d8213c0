// Package capslock shows a caps-lock indicator after modifier changes settle.
package capslock

import (
	"sync"
	"time"
)

// DefaultWindow is the settle time before the indicator is shown.
const DefaultWindow = 50 * time.Millisecond

// Indicator collapses rapid modifier changes into one indicator update.
// Every change that flips caps-lock re-arms the timer, so only the latest
// state is shown, and only when it differs from what was last shown.
type Indicator struct {
	window time.Duration
	show   func(on bool)

	mu       sync.Mutex
	modifier bool
	shown    bool
	hidden   bool
	timer    *time.Timer
	stopped  bool
}

// NewIndicator creates an indicator. initial is the caps-lock state at
// startup, which counts as already shown.
func NewIndicator(window time.Duration, initial bool, show func(on bool)) *Indicator {
	return &Indicator{
		window:   window,
		show:     show,
		modifier: initial,
		shown:    initial,
	}
}

// SetHidden disables or enables the indicator.
func (i *Indicator) SetHidden(hidden bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.hidden = hidden
	if hidden && i.timer != nil {
		i.timer.Stop()
	}
}

// FlagsChanged records the caps-lock bit of a modifier change.
func (i *Indicator) FlagsChanged(capsLock bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	changed := capsLock != i.modifier
	i.modifier = capsLock
	if i.stopped || i.hidden || !changed {
		return
	}

	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.window, i.flush)
}

func (i *Indicator) flush() {
	i.mu.Lock()
	if i.stopped || i.hidden || i.modifier == i.shown {
		i.mu.Unlock()
		return
	}
	current := i.modifier
	i.shown = current
	i.mu.Unlock()

	if i.show != nil {
		i.show(current)
	}
}

// Stop prevents any further indicator updates.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stopped = true
	if i.timer != nil {
		i.timer.Stop()
	}
}
