package node

import (
	"math/rand"
	"sync"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer paces the sync cycles of a node. It ticks once per Reset; the
// node resets it after each cycle so that a slow cycle delays the next one.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to reset the timer
	stopCh       chan struct{}      //receives instruction to stop the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
	shutdownOnce sync.Once
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		stopCh:       make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer returns a ControlTimer that fires between d and 2d
// after a reset to d.
func NewRandomControlTimer() *ControlTimer {

	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := (time.Duration(rand.Int63()) % min)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run arms the timer with init and loops until Shutdown.
func (c *ControlTimer) Run(init time.Duration) {
	timer := c.timerFactory(init)
	for {
		select {
		case <-timer:
			timer = nil
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				return
			}
		case t := <-c.resetCh:
			timer = c.timerFactory(t)
		case <-c.stopCh:
			timer = nil
		case <-c.shutdownCh:
			return
		}
	}
}

// Ticks ...
func (c *ControlTimer) Ticks() <-chan struct{} {
	return c.tickCh
}

// Reset arms the timer with d, replacing any pending tick.
func (c *ControlTimer) Reset(d time.Duration) {
	select {
	case c.resetCh <- d:
	case <-c.shutdownCh:
	}
}

// Stop disarms the timer until the next Reset.
func (c *ControlTimer) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	case <-c.shutdownCh:
	}
}

// Shutdown ends Run. It is safe to call more than once.
func (c *ControlTimer) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
}
