package whispr

import (
	"context"
	"sync"
	"time"
)

// DefaultSearchDelay is the debounce window for user search input.
const DefaultSearchDelay = 300 * time.Millisecond

// UserSearcher debounces user-search input: only the query left standing
// after the debounce window reaches the API, and results from a superseded
// query are discarded even if they arrive late.
type UserSearcher struct {
	client *Client

	mu    sync.Mutex
	timer *time.Timer
	seq   int
	delay time.Duration

	onResults func(query string, users []User)
	onError   func(query string, err error)
}

// NewUserSearcher creates a searcher delivering results to onResults.
// onError may be nil; failures are then only logged.
func NewUserSearcher(client *Client, onResults func(query string, users []User), onError func(query string, err error)) *UserSearcher {
	return &UserSearcher{
		client:    client,
		delay:     DefaultSearchDelay,
		onResults: onResults,
		onError:   onError,
	}
}

// SetDelay overrides the debounce window.
func (us *UserSearcher) SetDelay(d time.Duration) {
	us.mu.Lock()
	us.delay = d
	us.mu.Unlock()
}

// Input feeds a keystroke's worth of query text. Each call resets the
// debounce timer and invalidates any in-flight request. An empty query
// clears results immediately without touching the API.
func (us *UserSearcher) Input(query string) {
	us.mu.Lock()
	us.seq++
	seq := us.seq
	if us.timer != nil {
		us.timer.Stop()
	}
	if query == "" {
		us.timer = nil
		us.mu.Unlock()
		if us.onResults != nil {
			us.onResults("", nil)
		}
		return
	}
	us.timer = time.AfterFunc(us.delay, func() {
		us.run(seq, query)
	})
	us.mu.Unlock()
}

func (us *UserSearcher) run(seq int, query string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users, err := us.client.Profiles().Search(ctx, query)

	us.mu.Lock()
	stale := seq != us.seq
	us.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		logWarn("user search %q failed: %v", query, err)
		if us.onError != nil {
			us.onError(query, err)
		}
		return
	}
	if us.onResults != nil {
		us.onResults(query, users)
	}
}

// Close cancels any pending search.
func (us *UserSearcher) Close() {
	us.mu.Lock()
	us.seq++
	if us.timer != nil {
		us.timer.Stop()
		us.timer = nil
	}
	us.mu.Unlock()
}
