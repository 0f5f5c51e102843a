package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-crm-bulk/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidID      = errors.New("invalid record id")
)

type RecordRepository interface {
	List(ctx context.Context, moduleName string, filter map[string]any, limit int64) ([]map[string]any, error)
	FindByIDs(ctx context.Context, moduleName string, ids []string) ([]map[string]any, error)
	Update(ctx context.Context, moduleName, id string, data map[string]any) error
	UpdatedAt(ctx context.Context, moduleName string, ids []string) (map[string]time.Time, error)
}

type RecordRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewRecordRepository(mongodb *database.MongodbDB) RecordRepository {
	return &RecordRepositoryImpl{
		Collection: mongodb.DB.Collection("entity_records"),
	}
}

func (r *RecordRepositoryImpl) List(ctx context.Context, moduleName string, filter map[string]any, limit int64) ([]map[string]any, error) {
	query := BuildQuery(moduleName, filter)

	findOptions := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	return r.find(ctx, query, findOptions)
}

func (r *RecordRepositoryImpl) FindByIDs(ctx context.Context, moduleName string, ids []string) ([]map[string]any, error) {
	objIDs, err := toObjectIDs(ids)
	if err != nil {
		return nil, err
	}
	query := bson.M{
		"_id":     bson.M{"$in": objIDs},
		"entity":  moduleName,
		"deleted": bson.M{"$ne": true},
	}
	records, err := r.find(ctx, query, options.Find())
	if err != nil {
		return nil, err
	}

	// keep the caller's order
	byID := make(map[string]map[string]any, len(records))
	for _, rec := range records {
		byID[rec["id"].(string)] = rec
	}
	ordered := make([]map[string]any, 0, len(records))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			ordered = append(ordered, rec)
		}
	}
	return ordered, nil
}

func (r *RecordRepositoryImpl) Update(ctx context.Context, moduleName, id string, data map[string]any) error {
	recordID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidID, id, err)
	}

	set, unset := BuildUpdate(data)
	set["updated_at"] = time.Now()
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := r.Collection.UpdateOne(ctx, bson.M{"_id": recordID, "entity": moduleName, "deleted": bson.M{"$ne": true}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s in %s", ErrRecordNotFound, id, moduleName)
	}
	return nil
}

func (r *RecordRepositoryImpl) UpdatedAt(ctx context.Context, moduleName string, ids []string) (map[string]time.Time, error) {
	objIDs, err := toObjectIDs(ids)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1, "updated_at": 1})
	cursor, err := r.Collection.Find(ctx, bson.M{"_id": bson.M{"$in": objIDs}, "entity": moduleName, "deleted": bson.M{"$ne": true}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []EntityRecord
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		out[row.ID.Hex()] = row.UpdatedAt
	}
	return out, nil
}

func (r *RecordRepositoryImpl) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]map[string]any, error) {
	cursor, err := r.Collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []EntityRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	results := make([]map[string]any, len(records))
	for i := range records {
		results[i] = Flatten(&records[i])
	}
	return results, nil
}

// BuildQuery scopes a flat equality filter to a module; non-system keys are
// matched under data.
func BuildQuery(moduleName string, filter map[string]any) bson.M {
	query := bson.M{
		"entity":  moduleName,
		"deleted": bson.M{"$ne": true},
	}
	for k, v := range filter {
		if IsSystemField(k) {
			if k == "id" {
				k = "_id"
			}
			query[k] = v
		} else {
			query["data."+k] = v
		}
	}
	return query
}

// BuildUpdate maps record fields to data.<field>. Nil values unset the field.
func BuildUpdate(data map[string]any) (set bson.M, unset bson.M) {
	set = bson.M{}
	unset = bson.M{}
	for k, v := range data {
		if IsSystemField(k) {
			continue
		}
		if v == nil {
			unset["data."+k] = ""
			continue
		}
		set["data."+k] = v
	}
	return set, unset
}

// Flatten merges data and system fields into one map, converting BSON
// wrapper types to plain Go values.
func Flatten(rec *EntityRecord) map[string]any {
	flat := make(map[string]any, len(rec.Data)+3)
	for k, v := range rec.Data {
		flat[k] = Normalize(v)
	}
	flat["id"] = rec.ID.Hex()
	flat["created_at"] = rec.CreatedAt
	flat["updated_at"] = rec.UpdatedAt
	return flat
}

// Normalize converts BSON wrapper types to plain Go values.
func Normalize(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return int64(t)
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	}
	return v
}

func toObjectIDs(ids []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidID, id, err)
		}
		out = append(out, oid)
	}
	return out, nil
}
