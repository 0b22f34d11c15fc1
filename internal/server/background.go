package server

import (
	"context"
	"sync"
)

// BackgroundTasks runs work outside request lifetimes and lets owners wait for it to drain.
type BackgroundTasks struct {
	group sync.WaitGroup
}

// NewBackgroundTasks returns an empty task group.
func NewBackgroundTasks() *BackgroundTasks {
	return &BackgroundTasks{}
}

// Go runs task on its own goroutine.
func (b *BackgroundTasks) Go(task func()) {
	b.group.Go(task)
}

// Wait blocks until every started task has returned.
func (b *BackgroundTasks) Wait() {
	b.group.Wait()
}

// WaitContext is Wait bounded by ctx.
func (b *BackgroundTasks) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
