package logger

import (
	"go-crm-bulk/internal/config"
	"go-crm-bulk/internal/database"

	"go.uber.org/zap"
)

// NewLogger builds the application logger. Entries tagged with an
// operation_id are also persisted to the bulk operation log collection.
func NewLogger(cfg *config.Config, mongodb *database.MongodbDB) (*zap.Logger, error) {
	baseLogger, err := NewBaseLogger(cfg)
	if err != nil {
		return nil, err
	}

	writer := NewDBLogWriter(mongodb, cfg)
	finalCore := NewOperationCore(baseLogger.Core(), writer)

	return zap.New(finalCore, zap.AddCaller()), nil
}

// NewBaseLogger is the console logger without database persistence, used by
// the CLI.
func NewBaseLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.IsProduction() {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Enable Caller to get Function Name
	zapConfig.EncoderConfig.FunctionKey = "func"

	return zapConfig.Build()
}
