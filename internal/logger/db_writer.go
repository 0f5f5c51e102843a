package logger

import (
	"context"
	"fmt"
	"time"

	"go-crm-bulk/internal/config"
	"go-crm-bulk/internal/database"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap/zapcore"
)

const LogCollection = "bulk_operation_logs"

// LogEntry holds the data passed from Zap to the writer
type LogEntry struct {
	OperationID string
	Level       zapcore.Level
	Message     string
	Caller      string
	Fields      map[string]interface{}
	Time        time.Time
}

// OperationLog is the stored form of a LogEntry.
type OperationLog struct {
	OperationID string                 `json:"operation_id" bson:"operation_id"`
	AppID       string                 `json:"app_id" bson:"app_id"`
	Level       string                 `json:"level" bson:"level"`
	Message     string                 `json:"message" bson:"message"`
	Caller      string                 `json:"caller,omitempty" bson:"caller,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty" bson:"fields,omitempty"`
	CreatedAt   time.Time              `json:"created_at" bson:"created_at"`
}

// DBLogWriter handles the async writing
type DBLogWriter struct {
	collection *mongo.Collection
	logChan    chan LogEntry
	appId      string
}

// NewDBLogWriter initializes the worker
func NewDBLogWriter(mongodb *database.MongodbDB, cfg *config.Config) *DBLogWriter {
	writer := &DBLogWriter{
		collection: mongodb.DB.Collection(LogCollection),
		logChan:    make(chan LogEntry, 1000), // Buffer 1000 logs
		appId:      cfg.AppId,
	}

	go writer.processLogs()

	return writer
}

// AddLog is called by the operation core
func (w *DBLogWriter) AddLog(entry LogEntry) {
	select {
	case w.logChan <- entry:
	default:
		// Channel full: drop rather than block a bulk run
		fmt.Println("Operation log channel full, dropping:", entry.Message)
	}
}

func (w *DBLogWriter) processLogs() {
	for entry := range w.logChan {
		record := ToOperationLog(entry, w.appId)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		// Errors are ignored to keep the app running
		w.collection.InsertOne(ctx, record)
		cancel()
	}
}

func ToOperationLog(entry LogEntry, appID string) OperationLog {
	created := entry.Time
	if created.IsZero() {
		created = time.Now()
	}
	return OperationLog{
		OperationID: entry.OperationID,
		AppID:       appID,
		Level:       entry.Level.String(),
		Message:     entry.Message,
		Caller:      entry.Caller,
		Fields:      entry.Fields,
		CreatedAt:   created.UTC(),
	}
}
