package cmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/qprofile/internal/log"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_FollowLogEchoesEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := followLogEntries(ctx)
	require.NotNil(t, entries)
	log.SetEnabled(true)
	log.SetMinLevel(log.LevelInfo)

	out := &syncBuffer{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		printLogEntries(ctx, entries, out)
	}()

	log.Info(log.CatPool, "Swapped client", "kind", "runtime")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[pool] Swapped client kind=runtime")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "printLogEntries did not stop after cancel")
	}
}
