// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Go launches fn in a new goroutine. A panic is recovered and logged with the
// task name rather than crashing the process. Use it for every fire-and-forget
// goroutine (queue workers, metrics server, shippers).
func Go(task string, fn func()) {
	go run(task, fn)
}

func run(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"task", task, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Group runs named tasks and waits for all of them, panics included.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn as part of the group.
func (g *Group) Go(task string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(task, fn)
	}()
}

// Wait blocks until every task started with Go has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
