package overlord

import (
	"context"

	"github.com/gossipcore/relay/internal/ops"
	"github.com/gossipcore/relay/internal/relay"
)

// minionExit is delivered when a Minion task completes, successfully or
// not. joinSet fans these in from however many Minion goroutines are
// currently running, the way a tokio JoinSet delivers (child_id, result)
// pairs to a single awaiter.
type minionExit struct {
	URL relay.Url
	Err *ops.RelayError
}

// joinSet tracks running Minion tasks and funnels their completions
// into one channel, so the Overlord's main loop can await "any Minion
// exits" without polling a dynamic set of goroutines directly.
type joinSet struct {
	running map[relay.Url]context.CancelFunc
	exits   chan minionExit
}

func newJoinSet() *joinSet {
	return &joinSet{
		running: make(map[relay.Url]context.CancelFunc),
		exits:   make(chan minionExit, 16),
	}
}

// spawn launches run in its own goroutine under a cancellable child
// context, recording the cancel func so the Overlord can force a
// shutdown later. run's return value is delivered on exits when it returns.
func (js *joinSet) spawn(ctx context.Context, url relay.Url, run func(context.Context) *ops.RelayError) {
	childCtx, cancel := context.WithCancel(ctx)
	js.running[url] = cancel
	go func() {
		err := run(childCtx)
		js.exits <- minionExit{URL: url, Err: err}
	}()
}

// cancel requests url's Minion task stop; it still reports through
// exits once its goroutine actually returns.
func (js *joinSet) cancel(url relay.Url) {
	if c, ok := js.running[url]; ok {
		c()
	}
}

// cancelAll requests every running Minion stop.
func (js *joinSet) cancelAll() {
	for _, c := range js.running {
		c()
	}
}

// forget drops the bookkeeping entry for url, called once its exit has
// been processed.
func (js *joinSet) forget(url relay.Url) {
	delete(js.running, url)
}

// isAlive reports whether url currently has a running Minion task.
func (js *joinSet) isAlive(url relay.Url) bool {
	_, ok := js.running[url]
	return ok
}

// len reports how many Minion tasks are currently tracked.
func (js *joinSet) len() int {
	return len(js.running)
}
