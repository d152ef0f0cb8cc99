package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/qprofile/internal/backend"
	"github.com/zjrosen/qprofile/internal/log"
)

var exportIntent string

var exportCmd = &cobra.Command{
	Use:   "export <exportId> <out>",
	Short: "Download a result archive through the streaming client",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exportID, outPath := args[0], args[1]
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var elapsed time.Duration
		res, err := a.Export(cmd.Context(), backend.ExportInput{
			ExportID:     exportID,
			ExportIntent: backend.ExportIntent(exportIntent),
		}, backend.ExportHandlers{
			OnError: func(err error) {
				log.ErrorErr(log.CatClient, "Export failed", err, "exportId", exportID)
			},
			OnFinished: func(start time.Time) {
				elapsed = time.Since(start)
			},
		})
		if err != nil {
			return explain(err)
		}

		f, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		for _, chunk := range res.Chunks {
			if _, err := f.Write(chunk); err != nil {
				_ = f.Close()
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s in %s", res.Size(), outPath, elapsed.Round(time.Millisecond))
		if res.Checksum != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), " (checksum %s)", res.Checksum)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportIntent, "intent", string(backend.ExportIntentTaskAssist),
		"export intent: TRANSFORMATION or TASK_ASSIST")
	rootCmd.AddCommand(exportCmd)
}
