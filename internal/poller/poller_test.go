package poller_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashgrove/cs2obs/internal/broadcast"
	"github.com/ashgrove/cs2obs/internal/gameobserver"
	"github.com/ashgrove/cs2obs/internal/poller"
)

type stubWalker struct {
	calls atomic.Int64
	batch []gameobserver.Player
	err   error
}

func (w *stubWalker) Players() ([]gameobserver.Player, error) {
	w.calls.Add(1)
	if w.err != nil {
		return nil, w.err
	}
	return w.batch, nil
}

func TestTickSkippedWithoutSubscribers(t *testing.T) {
	t.Parallel()

	hub := broadcast.New()
	walker := &stubWalker{batch: []gameobserver.Player{{Name: "a", Health: 50}}}
	p := poller.New(walker, hub, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Run(stop)
		close(done)
	}()

	time.Sleep(3 * poller.Interval)
	close(stop)
	<-done

	if got := walker.calls.Load(); got != 0 {
		t.Fatalf("expected 0 walks with no subscribers, got %d", got)
	}
}

func TestTickPublishesFilteredBatch(t *testing.T) {
	t.Parallel()

	hub := broadcast.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx)

	walker := &stubWalker{batch: []gameobserver.Player{
		{Name: "alive", Health: 50},
		{Name: "dead", Health: 0},
	}}
	p := poller.New(walker, hub, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Run(stop)
		close(done)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	select {
	case batch := <-ch:
		if len(batch) != 1 || batch[0].Name != "alive" {
			t.Fatalf("got %+v, want exactly the alive player", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for a published batch")
	}
}

func TestTickErrorCallback(t *testing.T) {
	t.Parallel()

	hub := broadcast.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = hub.Subscribe(ctx) // ensure the poller doesn't skip ticks

	walkErr := errors.New("boom")
	walker := &stubWalker{err: walkErr}

	errs := make(chan error, 1)
	p := poller.New(walker, hub, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Run(stop)
		close(done)
	}()
	defer func() {
		close(stop)
		<-done
	}()

	select {
	case err := <-errs:
		if err != walkErr {
			t.Fatalf("got %v, want %v", err, walkErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
}
