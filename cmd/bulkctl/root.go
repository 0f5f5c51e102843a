package main

import (
	"fmt"
	"os"

	"go-crm-bulk/internal/config"
	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	verbose  bool
	storeDir string

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "bulkctl",
		Short: "Preview and apply bulk field updates to exported CRM records",
		Long: `bulkctl runs the bulk update engine against a JSON file of records.
Update batches are YAML or JSON files listing field updates, and saved
templates live in a local store directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine progress to stderr")
	cmd.PersistentFlags().StringVar(&opts.storeDir, "store", ".bulkctl", "Directory holding saved templates")

	cmd.AddCommand(newPreviewCommand(opts))
	cmd.AddCommand(newApplyCommand(opts))
	cmd.AddCommand(newTemplatesCommand(opts))

	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) setup() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	o.cfg = cfg

	if !o.verbose {
		o.log = zap.NewNop()
		return nil
	}
	o.log, err = logger.NewBaseLogger(cfg)
	return err
}

// newEngine builds an engine without persistence, using the rules the API
// server is configured with.
func (o *rootOptions) newEngine() *bulk_operation.Engine {
	return bulk_operation.NewEngine(bulk_operation.EngineConfig{
		HistoryLimit: o.cfg.BulkHistoryLimit,
		Rules: &bulk_operation.ItemRules{
			RequiredFields:    o.cfg.BulkRequiredFields,
			NonNegativeFields: o.cfg.BulkNonNegativeFields,
		},
		Logger: o.log.Named("bulk"),
	})
}
