package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/features/bulk_template"
	"go-crm-bulk/internal/kvstore"

	"github.com/spf13/cobra"
)

func newTemplatesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage saved update templates",
	}

	cmd.AddCommand(newTemplatesListCommand(opts))
	cmd.AddCommand(newTemplatesSaveCommand(opts))
	cmd.AddCommand(newTemplatesDeleteCommand(opts))
	cmd.AddCommand(newTemplatesApplyCommand(opts))

	return cmd
}

func (o *rootOptions) templateStore(engine *bulk_operation.Engine) (*bulk_template.Store, error) {
	fs, err := kvstore.NewFileStore(o.storeDir)
	if err != nil {
		return nil, err
	}
	return bulk_template.NewStore(fs, engine, o.log, o.cfg.BulkTemplateKey), nil
}

func newTemplatesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.templateStore(opts.newEngine())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFIELDS\tUSED")
			for _, t := range store.ListTemplates(cmd.Context()) {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", t.ID, t.Name, len(t.Fields), t.UsageCount)
			}
			return w.Flush()
		},
	}
}

func newTemplatesSaveCommand(opts *rootOptions) *cobra.Command {
	var (
		name          string
		description   string
		operationName string
		batchPath     string
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a batch's updates as a template",
		Long:  "Save the updates of a batch file as a reusable template. Templates hold unconditional field values only.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatch(batchPath)
			if err != nil {
				return err
			}
			fields := make(map[string]any, len(batch.Updates))
			for _, u := range batch.Updates {
				if u.Condition != nil && !u.Condition.IsZero() {
					return fmt.Errorf("update of %q has a condition; templates cannot store conditions", u.Field)
				}
				fields[u.Field] = u.Value
			}
			if operationName == "" {
				operationName = batch.OperationName
			}

			store, err := opts.templateStore(opts.newEngine())
			if err != nil {
				return err
			}
			t, err := store.SaveTemplate(cmd.Context(), name, operationName, fields, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved template %s (%s)\n", t.ID, t.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Template name")
	cmd.Flags().StringVar(&description, "description", "", "Template description")
	cmd.Flags().StringVar(&operationName, "operation-name", "", "Operation name used when the template is applied")
	cmd.Flags().StringVarP(&batchPath, "batch", "b", "", "YAML or JSON update batch")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("batch")

	return cmd
}

func newTemplatesDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [template-id]",
		Short: "Delete a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.templateStore(opts.newEngine())
			if err != nil {
				return err
			}
			if err := store.DeleteTemplate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted template %s\n", args[0])
			return nil
		},
	}
}

func newTemplatesApplyCommand(opts *rootOptions) *cobra.Command {
	var (
		recordsPath string
		outPath     string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "apply [template-id]",
		Short: "Apply a saved template to a records file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(recordsPath)
			if err != nil {
				return err
			}
			store, err := opts.templateStore(opts.newEngine())
			if err != nil {
				return err
			}
			if _, err := store.GetTemplate(cmd.Context(), args[0]); err != nil {
				return err
			}

			return runAndSave(cmd, records, outPath, asJSON, func(ctx context.Context) (*bulk_operation.OperationResult, error) {
				return store.ApplyTemplate(ctx, args[0], records.items(), records.sink())
			})
		},
	}

	cmd.Flags().StringVarP(&recordsPath, "records", "r", "", "JSON file of records")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write updated records here instead of over --records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.MarkFlagRequired("records")

	return cmd
}
