// Package poller runs the single long-running worker that drives the
// whole observer: sleep, check for subscribers, walk the entity table,
// filter, publish. It is deliberately isolated from the transport's
// cooperative goroutines — this work blocks on positional memory I/O
// and is pinned to its own OS thread for the lifetime of the process.
package poller

import (
	"runtime"
	"time"

	"github.com/ashgrove/cs2obs/internal/broadcast"
	"github.com/ashgrove/cs2obs/internal/gameobserver"
)

// Interval is the default poll cadence, used by New and by
// NewWithInterval when given a non-positive interval.
const Interval = 100 * time.Millisecond

// Walker is the observation surface the poller drives every tick.
type Walker interface {
	Players() ([]gameobserver.Player, error)
}

// ErrorFunc receives a tick's walk error, if any. Install a logger here;
// a nil ErrorFunc silently drops tick failures.
type ErrorFunc func(err error)

// Poller runs Walker.Players on a fixed cadence and publishes the
// filtered result to a Hub, skipping ticks entirely while no one is
// subscribed.
type Poller struct {
	walker   Walker
	hub      *broadcast.Hub
	onErr    ErrorFunc
	interval time.Duration
}

// New returns a Poller that reads from walker and publishes to hub at
// Interval. onErr may be nil.
func New(walker Walker, hub *broadcast.Hub, onErr ErrorFunc) *Poller {
	return &Poller{walker: walker, hub: hub, onErr: onErr, interval: Interval}
}

// NewWithInterval is New with a caller-supplied cadence in place of
// Interval, e.g. to honor a configured poll interval.
func NewWithInterval(walker Walker, hub *broadcast.Hub, onErr ErrorFunc, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = Interval
	}
	return &Poller{walker: walker, hub: hub, onErr: onErr, interval: interval}
}

// Run blocks, polling at the Poller's interval until stop is closed. It locks the
// calling goroutine to its OS thread for the duration, mirroring the
// dedicated-thread shape a blocking-syscall-heavy loop needs — here
// because every tick performs a burst of positional reads against
// /proc/<pid>/mem that should not be interleaved with Go's network
// poller machinery on the same thread.
func (p *Poller) Run(stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if p.hub.SubscriberCount() == 0 {
				continue
			}
			p.tick()
		}
	}
}

// tick performs one observation: walk, filter dead players, publish.
func (p *Poller) tick() {
	players, err := p.walker.Players()
	if err != nil {
		if p.onErr != nil {
			p.onErr(err)
		}
		return
	}

	alive := players[:0:0]
	for _, pl := range players {
		if pl.Health <= 0 {
			continue
		}
		alive = append(alive, pl)
	}

	p.hub.Publish(alive)
}
