package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bobg/habs"
)

// ErrInjected is the error produced by a failing Faulty store.
var ErrInjected = errors.New("injected failure")

// Faulty is a blob store wrapper whose reads and writes can be made to fail.
// It counts the calls it receives.
type Faulty struct {
	S    habs.Store
	Name string

	failGet, failSet atomic.Bool
	failNextSets     atomic.Int64
	gets, sets       atomic.Int64

	mu      sync.Mutex
	corrupt map[habs.Ref][]byte
	setCh   chan habs.Ref
}

// NewFaulty wraps s.
func NewFaulty(name string, s habs.Store) *Faulty {
	return &Faulty{
		S:       s,
		Name:    name,
		corrupt: make(map[habs.Ref][]byte),
		setCh:   make(chan habs.Ref, 100),
	}
}

// FailGets controls whether GetBlob fails.
func (f *Faulty) FailGets(fail bool) { f.failGet.Store(fail) }

// FailSets controls whether SetBlob fails.
func (f *Faulty) FailSets(fail bool) { f.failSet.Store(fail) }

// FailNextSets makes the next n calls to SetBlob fail.
func (f *Faulty) FailNextSets(n int) { f.failNextSets.Store(int64(n)) }

// Fail controls whether all calls fail.
func (f *Faulty) Fail(fail bool) {
	f.FailGets(fail)
	f.FailSets(fail)
}

// Corrupt makes GetBlob return b for ref regardless of what is stored.
func (f *Faulty) Corrupt(ref habs.Ref, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt[ref] = b
}

// Gets tells how many times GetBlob has been called.
func (f *Faulty) Gets() int64 { return f.gets.Load() }

// Sets tells how many times SetBlob has been called.
func (f *Faulty) Sets() int64 { return f.sets.Load() }

// Attempted receives the ref of every SetBlob call, failed or not,
// as long as its buffer has room.
func (f *Faulty) Attempted() <-chan habs.Ref { return f.setCh }

func (f *Faulty) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	f.gets.Add(1)
	if f.failGet.Load() {
		return nil, ErrInjected
	}
	f.mu.Lock()
	b, ok := f.corrupt[ref]
	f.mu.Unlock()
	if ok {
		return b, nil
	}
	return f.S.GetBlob(ctx, ref)
}

func (f *Faulty) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	f.sets.Add(1)
	defer func() {
		select {
		case f.setCh <- ref:
		default:
		}
	}()
	if f.failSet.Load() || f.failNextSets.Add(-1) >= 0 {
		return ErrInjected
	}
	return f.S.SetBlob(ctx, ref, b)
}

func (f *Faulty) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	if f.failGet.Load() {
		return false, ErrInjected
	}
	return f.S.HasBlob(ctx, ref)
}

func (f *Faulty) String() string { return f.Name }
