package mock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aws/smithy-go/auth/bearer"

	"github.com/zjrosen/qprofile/internal/backend"
)

// Lister is a fake backend.ProfileLister.
type Lister struct {
	// ListFunc answers ListAvailableProfiles. If nil, an empty page is returned.
	ListFunc func(ctx context.Context, in backend.ListProfilesInput) (*backend.ListProfilesOutput, error)

	mu     sync.Mutex
	inputs []backend.ListProfilesInput
	closed atomic.Int32
}

var _ backend.ProfileLister = (*Lister)(nil)

// ListAvailableProfiles records the call and delegates to ListFunc.
func (l *Lister) ListAvailableProfiles(ctx context.Context, in backend.ListProfilesInput) (*backend.ListProfilesOutput, error) {
	l.mu.Lock()
	l.inputs = append(l.inputs, in)
	l.mu.Unlock()

	if l.ListFunc != nil {
		return l.ListFunc(ctx, in)
	}
	return &backend.ListProfilesOutput{}, nil
}

// Close counts closes.
func (l *Lister) Close() error {
	l.closed.Add(1)
	return nil
}

// Inputs returns every request seen so far.
func (l *Lister) Inputs() []backend.ListProfilesInput {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]backend.ListProfilesInput(nil), l.inputs...)
}

// CloseCount returns how many times Close was called.
func (l *Lister) CloseCount() int {
	return int(l.closed.Load())
}

// Pages returns a ListFunc serving pages in order, chained by tokens
// "1", "2", ...
func Pages(pages ...[]backend.ProfileRecord) func(context.Context, backend.ListProfilesInput) (*backend.ListProfilesOutput, error) {
	return func(_ context.Context, in backend.ListProfilesInput) (*backend.ListProfilesOutput, error) {
		idx := 0
		if in.NextToken != "" {
			for i := range pages {
				if tokenFor(i) == in.NextToken {
					idx = i
				}
			}
		}
		out := &backend.ListProfilesOutput{}
		if idx < len(pages) {
			out.Profiles = pages[idx]
		}
		if idx+1 < len(pages) {
			out.NextToken = tokenFor(idx + 1)
		}
		return out, nil
	}
}

func tokenFor(i int) string {
	return strconv.Itoa(i)
}

// ListerFactory is a fake backend.ListerFactory handing out one Lister per
// endpoint. Each call creates a fresh Lister via NewFunc.
type ListerFactory struct {
	// NewFunc builds the lister for a binding. If nil, an empty Lister is used.
	NewFunc func(b backend.Binding) (*Lister, error)

	mu      sync.Mutex
	created []*Lister
	calls   []backend.Binding
}

var _ backend.ListerFactory = (*ListerFactory)(nil)

// NewProfileLister implements backend.ListerFactory.
func (f *ListerFactory) NewProfileLister(_ context.Context, b backend.Binding, _ bearer.TokenProvider) (backend.ProfileLister, error) {
	var (
		l   *Lister
		err error
	)
	if f.NewFunc != nil {
		l, err = f.NewFunc(b)
	} else {
		l = &Lister{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, b)
	if err != nil {
		return nil, err
	}
	f.created = append(f.created, l)
	return l, nil
}

// Created returns every lister handed out.
func (f *ListerFactory) Created() []*Lister {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Lister(nil), f.created...)
}

// Calls returns the bindings requested so far.
func (f *ListerFactory) Calls() []backend.Binding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Binding(nil), f.calls...)
}
