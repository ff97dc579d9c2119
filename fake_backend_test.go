package kvsession

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errInjected = errors.New("injected failure")

// fakeBackend is an in-memory Backend with fault injection. Scan serves keys
// in sorted order, pageSize at a time, and can replay scripted pages instead.
type fakeBackend struct {
	mu sync.Mutex

	data map[string]string
	ttl  map[string]time.Duration

	// connectFailures makes the next N Connect calls fail.
	connectFailures int
	connectCalls    int

	// failOps makes the named operations fail ("get", "set", "del", ...).
	failOps map[string]bool
	// failDelKey makes Del fail for this key only.
	failDelKey string
	// existsAlways makes Exists report true for every key.
	existsAlways bool

	// scanErr, when set, is returned by every Scan call.
	scanErr error

	// pages, when set, are returned by successive Scan calls verbatim.
	pages    [][]string
	pageSize int

	calls     []string
	scanMatch []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		data:     make(map[string]string),
		ttl:      make(map[string]time.Duration),
		failOps:  make(map[string]bool),
		pageSize: 2,
	}
}

func (f *fakeBackend) record(op string) error {
	f.calls = append(f.calls, op)
	if f.failOps[op] {
		return errInjected
	}
	return nil
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectFailures > 0 {
		f.connectFailures--
		return errInjected
	}
	return nil
}

func (f *fakeBackend) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get"); err != nil {
		return "", false, err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeBackend) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set"); err != nil {
		return err
	}
	f.data[key] = value
	f.ttl[key] = ttl
	return nil
}

func (f *fakeBackend) Del(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("del"); err != nil {
		return 0, err
	}
	if key != "" && key == f.failDelKey {
		return 0, errInjected
	}
	if _, ok := f.data[key]; !ok {
		return 0, nil
	}
	delete(f.data, key)
	delete(f.ttl, key)
	return 1, nil
}

func (f *fakeBackend) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("exists"); err != nil {
		return false, err
	}
	if f.existsAlways {
		return true, nil
	}
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeBackend) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("expire"); err != nil {
		return false, err
	}
	if _, ok := f.data[key]; !ok {
		return false, nil
	}
	f.ttl[key] = ttl
	return true, nil
}

func (f *fakeBackend) Scan(_ context.Context, cursor uint64, match string, _ int64) ([]string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("scan"); err != nil {
		return nil, 0, err
	}
	f.scanMatch = append(f.scanMatch, match)
	if f.scanErr != nil {
		return nil, 0, f.scanErr
	}

	if f.pages != nil {
		page := f.pages[cursor]
		next := cursor + 1
		if int(next) >= len(f.pages) {
			next = 0
		}
		return page, next, nil
	}

	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		if matchGlob(match, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := min(int(cursor), len(keys))
	end := start + f.pageSize
	if end >= len(keys) {
		return keys[start:], 0, nil
	}
	return keys[start:end], uint64(end), nil
}

func (f *fakeBackend) Close() error {
	return nil
}
