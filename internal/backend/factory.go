package backend

import (
	"context"

	"github.com/aws/smithy-go/auth/bearer"
)

// ListerFactory creates short-lived clients for profile discovery.
type ListerFactory interface {
	NewProfileLister(ctx context.Context, b Binding, token bearer.TokenProvider) (ProfileLister, error)
}

// Factory builds backend clients with shared transport options.
type Factory struct {
	opts Options
}

var _ ListerFactory = (*Factory)(nil)

// NewFactory creates a factory using opts for every client.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts}
}

// NewRuntime creates a runtime client.
func (f *Factory) NewRuntime(b Binding, token bearer.TokenProvider) (*RuntimeClient, error) {
	return NewRuntimeClient(b, token, f.opts)
}

// NewStreaming creates a streaming client.
func (f *Factory) NewStreaming(b Binding, token bearer.TokenProvider) (*StreamingClient, error) {
	return NewStreamingClient(b, token, f.opts)
}

// NewProfileLister implements ListerFactory with a runtime client.
func (f *Factory) NewProfileLister(_ context.Context, b Binding, token bearer.TokenProvider) (ProfileLister, error) {
	return f.NewRuntime(b, token)
}
