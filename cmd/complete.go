package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/qprofile/internal/backend"
)

var (
	completeFilename string
	completeLanguage string
	completeMax      int
)

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Request inline completions for source read from stdin",
	Long: `Request inline completions for the source read from stdin, treated as
the text left of the cursor. The request is sent through the pooled runtime
client bound to the active profile.

Example:
  head -n 20 main.go | qprofile complete --filename main.go --language go`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		src, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Complete(cmd.Context(), backend.CompletionsInput{
			FileContext: backend.FileContext{
				Filename:            completeFilename,
				ProgrammingLanguage: backend.ProgrammingLanguage{LanguageName: completeLanguage},
				LeftFileContent:     string(src),
			},
			MaxResults: completeMax,
		})
		if err != nil {
			return explain(err)
		}
		for _, c := range out.Completions {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), c.Content)
		}
		return nil
	},
}

func init() {
	completeCmd.Flags().StringVar(&completeFilename, "filename", "stdin", "file name reported to the service")
	completeCmd.Flags().StringVar(&completeLanguage, "language", "plaintext", "programming language of the input")
	completeCmd.Flags().IntVar(&completeMax, "max", 1, "maximum number of completions")
	rootCmd.AddCommand(completeCmd)
}
