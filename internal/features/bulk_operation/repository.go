package bulk_operation

import (
	"context"
	"errors"
	"fmt"

	"go-crm-bulk/internal/database"
	"go-crm-bulk/internal/features/record"
	"go-crm-bulk/internal/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StoredOperation is a history entry as persisted, with the module its
// records belong to.
type StoredOperation struct {
	HistoryEntry `bson:",inline"`
	ModuleName   string `json:"module_name" bson:"module_name"`
}

type HistoryRepository interface {
	HistorySink
	Get(ctx context.Context, id string) (*StoredOperation, error)
	List(ctx context.Context, limit int) ([]StoredOperation, error)
}

type HistoryRepositoryImpl struct {
	collection *mongo.Collection
}

func NewHistoryRepository(db *database.MongodbDB) HistoryRepository {
	return &HistoryRepositoryImpl{
		collection: db.DB.Collection("bulk_operations"),
	}
}

// Record upserts entry; the module is taken from ctx.
func (r *HistoryRepositoryImpl) Record(ctx context.Context, entry HistoryEntry) error {
	doc := StoredOperation{HistoryEntry: entry, ModuleName: moduleFrom(ctx)}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": entry.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *HistoryRepositoryImpl) Get(ctx context.Context, id string) (*StoredOperation, error) {
	var op StoredOperation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&op)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	normalizeUndoData(op.UndoData)
	return &op, nil
}

func (r *HistoryRepositoryImpl) List(ctx context.Context, limit int) ([]StoredOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetProjection(bson.M{"undo_data": 0})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	ops := []StoredOperation{}
	if err = cursor.All(ctx, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func normalizeUndoData(data UndoData) {
	for _, snapshot := range data {
		for f, v := range snapshot {
			snapshot[f] = record.Normalize(v)
		}
	}
}

// LogRepository reads the per-operation log lines written by the logger.
type LogRepository interface {
	List(ctx context.Context, operationID string, limit int) ([]logger.OperationLog, error)
}

type LogRepositoryImpl struct {
	collection *mongo.Collection
}

func NewLogRepository(db *database.MongodbDB) LogRepository {
	return &LogRepositoryImpl{
		collection: db.DB.Collection(logger.LogCollection),
	}
}

func (r *LogRepositoryImpl) List(ctx context.Context, operationID string, limit int) ([]logger.OperationLog, error) {
	if limit <= 0 {
		limit = 200
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"operation_id": operationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	logs := []logger.OperationLog{}
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
