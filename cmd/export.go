package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/pkg/minutes/export"
)

// Export command flags.
var (
	exportFormat string
	exportFile   string
)

// NewExportCommand creates the export command.
func NewExportCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export the final minutes of a job",
		Long: `Render the final minutes of a completed job.

Formats:
  text      Plain text with headed sections (default)
  markdown  Markdown document with a decisions table (alias: md)
  json      The FinalMinutes object

The server renders the document, so the output matches GET
/v1/jobs/{id}/export exactly. A job without final minutes is an error.

Examples:
  minutes export 7b0c3f5e-8a2d-4a9e-9f59-5d1b2b4f0e21
  minutes export 7b0c3f5e-... --format markdown -f minutes.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}

	cmd.Flags().StringVar(&exportFormat, "format", "text", "Document format: text, markdown, json")
	cmd.Flags().StringVarP(&exportFile, "file", "f", "", "Write to this file instead of stdout")

	return cmd
}

func runExport(ctx context.Context, out io.Writer, deps *CommandDeps, rawID string) error {
	id, err := parseJobID(rawID)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	_, c, err := deps.connect()
	if err != nil {
		return err
	}

	data, _, err := c.Export(ctx, id, string(format))
	if err != nil {
		return err
	}

	if exportFile == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(exportFile, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", exportFile, err)
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", exportFile, len(data))
	return nil
}
