package logger

import (
	"go.uber.org/zap/zapcore"
)

// OperationKey is the field that routes an entry to the operation log.
const OperationKey = "operation_id"

type LogSink interface {
	AddLog(entry LogEntry)
}

// OperationCore tees entries that carry an operation id, whether added per
// call or through Logger.With, to a LogSink.
type OperationCore struct {
	zapcore.Core
	sink        LogSink
	operationID string
	context     []zapcore.Field
}

func NewOperationCore(baseCore zapcore.Core, sink LogSink) zapcore.Core {
	return &OperationCore{
		Core: baseCore,
		sink: sink,
	}
}

func (c *OperationCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &OperationCore{
		Core:        c.Core.With(fields),
		sink:        c.sink,
		operationID: c.operationID,
		context:     append(append([]zapcore.Field{}, c.context...), fields...),
	}
	if id := operationID(fields); id != "" {
		clone.operationID = id
	}
	return clone
}

func (c *OperationCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *OperationCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	id := c.operationID
	if perCall := operationID(fields); perCall != "" {
		id = perCall
	}

	if id != "" {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range c.context {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		delete(enc.Fields, OperationKey)

		c.sink.AddLog(LogEntry{
			OperationID: id,
			Level:       entry.Level,
			Message:     entry.Message,
			Caller:      entry.Caller.Function,
			Fields:      enc.Fields,
			Time:        entry.Time,
		})
	}

	// Underlying core still prints to console
	return c.Core.Write(entry, fields)
}

func operationID(fields []zapcore.Field) string {
	for _, f := range fields {
		if f.Key == OperationKey && f.Type == zapcore.StringType {
			return f.String
		}
	}
	return ""
}
