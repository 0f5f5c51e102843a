package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go-crm-bulk/internal/features/bulk_operation"

	"github.com/spf13/cobra"
)

func newPreviewCommand(opts *rootOptions) *cobra.Command {
	var (
		recordsPath string
		batchPath   string
		xlsxPath    string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the changes a batch would make without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(recordsPath)
			if err != nil {
				return err
			}
			batch, err := readBatch(batchPath)
			if err != nil {
				return err
			}
			updates, err := bulk_operation.CompileUpdates(batch.Updates)
			if err != nil {
				return err
			}

			entries := bulk_operation.GeneratePreview(records.items(), updates)
			printPreview(cmd.OutOrStdout(), entries, bulk_operation.Summarize(entries))

			if xlsxPath != "" {
				data, err := bulk_operation.ExportPreview(entries)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&recordsPath, "records", "r", "", "JSON file of records")
	cmd.Flags().StringVarP(&batchPath, "batch", "b", "", "YAML or JSON update batch")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the preview to this xlsx file")
	cmd.MarkFlagRequired("records")
	cmd.MarkFlagRequired("batch")

	return cmd
}

func newApplyCommand(opts *rootOptions) *cobra.Command {
	var (
		recordsPath string
		batchPath   string
		outPath     string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a batch to a records file",
		Long:  "Apply the batch's updates to every record and write the updated records back (or to --out).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(recordsPath)
			if err != nil {
				return err
			}
			batch, err := readBatch(batchPath)
			if err != nil {
				return err
			}
			updates, err := bulk_operation.CompileUpdates(batch.Updates)
			if err != nil {
				return err
			}
			runOpts := batch.options(opts.cfg.BulkChunkSize)

			return runAndSave(cmd, records, outPath, asJSON, func(ctx context.Context) (*bulk_operation.OperationResult, error) {
				return opts.newEngine().RunBulkUpdate(ctx, records.items(), updates, &runOpts, records.sink())
			})
		},
	}

	cmd.Flags().StringVarP(&recordsPath, "records", "r", "", "JSON file of records")
	cmd.Flags().StringVarP(&batchPath, "batch", "b", "", "YAML or JSON update batch")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write updated records here instead of over --records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.MarkFlagRequired("records")
	cmd.MarkFlagRequired("batch")

	return cmd
}

// runAndSave runs with interrupt cancellation and writes the records when
// anything changed, including after a cancel.
func runAndSave(cmd *cobra.Command, records *recordFile, outPath string, asJSON bool, run func(ctx context.Context) (*bulk_operation.OperationResult, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result, err := run(ctx)
	if err != nil && !(errors.Is(err, bulk_operation.ErrOperationCancelled) && result != nil) {
		return err
	}

	if result.SuccessCount > 0 {
		if outPath == "" {
			outPath = records.path
		}
		if werr := records.write(outPath); werr != nil {
			return fmt.Errorf("failed to write records: %w", werr)
		}
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(result); jerr != nil {
			return jerr
		}
	} else {
		printResult(cmd.OutOrStdout(), result)
	}
	return err
}

func printPreview(w io.Writer, entries []bulk_operation.PreviewEntry, summary bulk_operation.PreviewSummary) {
	for _, entry := range entries {
		if len(entry.Changes) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%s)\n", entry.Record.ID, entry.Record.Name())
		for _, field := range sortedKeys(entry.Changes) {
			change := entry.Changes[field]
			fmt.Fprintf(w, "  %s: %v -> %v\n", field, change.From, change.To)
		}
		for _, warning := range entry.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
		for _, conflict := range entry.Conflicts {
			fmt.Fprintf(w, "  blocked: %s\n", conflict)
		}
	}
	fmt.Fprintf(w, "%d records, %d changed, %d unchanged, %d with warnings, %d blocked\n",
		summary.Total, summary.Changed, summary.Unchanged, summary.WithWarning, summary.Blocked)
}

func printResult(w io.Writer, result *bulk_operation.OperationResult) {
	status := "completed"
	switch {
	case result.Cancelled:
		status = "cancelled"
	case !result.Success:
		status = "completed with failures"
	}
	fmt.Fprintf(w, "operation %s %s: %d of %d updated, %d failed\n",
		result.OperationID, status, result.SuccessCount, result.TotalItems, result.FailureCount)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.RecordID, e.Error)
	}
}
