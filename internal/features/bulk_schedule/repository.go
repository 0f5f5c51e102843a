package bulk_schedule

import (
	"context"
	"errors"
	"time"

	"go-crm-bulk/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const Collection = "bulk_schedules"

type ScheduleRepository interface {
	Create(ctx context.Context, schedule *Schedule) error
	GetByID(ctx context.Context, id string) (*Schedule, error)
	List(ctx context.Context, filter map[string]any) ([]Schedule, error)
	GetActive(ctx context.Context) ([]Schedule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, result RunSummary) error
}

type ScheduleRepositoryImpl struct {
	collection *mongo.Collection
}

func NewScheduleRepository(db *database.MongodbDB) ScheduleRepository {
	return &ScheduleRepositoryImpl{
		collection: db.DB.Collection(Collection),
	}
}

func (r *ScheduleRepositoryImpl) Create(ctx context.Context, schedule *Schedule) error {
	schedule.ID = primitive.NewObjectID()
	_, err := r.collection.InsertOne(ctx, schedule)
	return err
}

// GetByID returns nil, nil when no schedule has the id.
func (r *ScheduleRepositoryImpl) GetByID(ctx context.Context, id string) (*Schedule, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var schedule Schedule
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&schedule)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &schedule, nil
}

func (r *ScheduleRepositoryImpl) List(ctx context.Context, filter map[string]any) ([]Schedule, error) {
	if filter == nil {
		filter = map[string]any{}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var schedules []Schedule
	if err = cursor.All(ctx, &schedules); err != nil {
		return nil, err
	}
	if schedules == nil {
		schedules = []Schedule{}
	}
	return schedules, nil
}

func (r *ScheduleRepositoryImpl) GetActive(ctx context.Context) ([]Schedule, error) {
	return r.List(ctx, bson.M{"enabled": true})
}

func (r *ScheduleRepositoryImpl) SetEnabled(ctx context.Context, id string, enabled bool) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{"enabled": enabled, "updated_at": time.Now()}}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}

func (r *ScheduleRepositoryImpl) Delete(ctx context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	return err
}

func (r *ScheduleRepositoryImpl) UpdateLastRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, result RunSummary) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"last_run_at": lastRun,
			"next_run_at": nextRun,
			"last_result": result,
			"updated_at":  time.Now(),
		},
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}
