package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBuildQuery(t *testing.T) {
	oid := primitive.NewObjectID()

	got := BuildQuery("products", map[string]any{
		"status":     "active",
		"id":         oid,
		"created_at": bson.M{"$gt": 1},
	})

	assert.Equal(t, "products", got["entity"])
	assert.Equal(t, bson.M{"$ne": true}, got["deleted"])
	assert.Equal(t, "active", got["data.status"])
	assert.Equal(t, oid, got["_id"])
	assert.Equal(t, bson.M{"$gt": 1}, got["created_at"])
	assert.NotContains(t, got, "data.id")
}

func TestBuildUpdate(t *testing.T) {
	set, unset := BuildUpdate(map[string]any{
		"isActive":   false,
		"discount":   nil,
		"id":         "ignored",
		"updated_at": time.Now(),
	})

	assert.Equal(t, bson.M{"data.isActive": false}, set)
	assert.Equal(t, bson.M{"data.discount": ""}, unset)
}

func TestFlatten(t *testing.T) {
	oid := primitive.NewObjectID()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &EntityRecord{
		ID:        oid,
		Entity:    "products",
		CreatedAt: created,
		UpdatedAt: created,
		Data: map[string]interface{}{
			"name":      "Widget",
			"stock":     int32(4),
			"launch":    primitive.NewDateTimeFromTime(created),
			"tags":      primitive.A{"a", "b"},
			"dimension": primitive.D{{Key: "w", Value: int32(2)}},
		},
	}

	flat := Flatten(rec)

	assert.Equal(t, oid.Hex(), flat["id"])
	assert.Equal(t, "Widget", flat["name"])
	assert.Equal(t, int64(4), flat["stock"])
	assert.True(t, created.Equal(flat["launch"].(time.Time)))
	assert.Equal(t, []any{"a", "b"}, flat["tags"])
	assert.Equal(t, map[string]any{"w": int64(2)}, flat["dimension"])
	assert.Equal(t, created, flat["updated_at"])
}

func TestUpdateRejectsMalformedID(t *testing.T) {
	repo := &RecordRepositoryImpl{}

	err := repo.Update(context.Background(), "products", "not-a-hex-id", map[string]any{"isActive": false})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Contains(t, err.Error(), `"not-a-hex-id"`)
}
