package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/qprofile/internal/connpool"
	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/profile"
	"github.com/zjrosen/qprofile/internal/pubsub"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow sign-ins and keep the active profile current",
	Long: `Watch the token cache for sign-ins and sign-outs. Each new connection
triggers discovery (and auto-selection when a single endpoint has profiles);
pooled clients are rebuilt whenever the selection changes. Runs until
interrupted.

With --follow-log every log entry is echoed to stderr as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		a.Notifier().Subscribe(ctx, func(sel profile.Selected) {
			_, _ = fmt.Fprintf(out, "selected %s via %s\n", sel.ProfileARN, sel.Endpoint)
		})
		go printPoolEvents(ctx, a.Pool().Events(ctx), out)
		if followLog {
			go printLogEntries(ctx, followLogEntries(ctx), cmd.ErrOrStderr())
		}

		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Watching for sign-in changes (Ctrl+C to stop)")
		return a.Watch(ctx)
	},
}

func printPoolEvents(ctx context.Context, events <-chan pubsub.Event[connpool.Event], out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_, _ = fmt.Fprintln(out, ev.Payload.String())
		}
	}
}

// followLogEntries subscribes to the logger, starting an info-level one
// that writes nowhere when no log file is configured.
func followLogEntries(ctx context.Context) <-chan log.LogEvent {
	if entries := log.Subscribe(ctx); entries != nil {
		return entries
	}
	log.InitWriter(io.Discard, log.LevelInfo)
	return log.Subscribe(ctx)
}

func printLogEntries(ctx context.Context, entries <-chan log.LogEvent, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-entries:
			if !ok {
				return
			}
			_, _ = io.WriteString(out, ev.Payload)
		}
	}
}

var followLog bool

func init() {
	watchCmd.Flags().BoolVar(&followLog, "follow-log", false, "echo log entries to stderr")
	rootCmd.AddCommand(watchCmd)
}
