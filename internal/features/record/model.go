package record

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntityRecord is a stored CRM record of any module (products, proposals,
// subscriptions...).
type EntityRecord struct {
	ID        primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Entity    string                 `json:"entity" bson:"entity"`
	Data      map[string]interface{} `json:"data" bson:"data"`
	CreatedAt time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" bson:"updated_at"`
	UpdatedBy string                 `json:"updated_by,omitempty" bson:"updated_by,omitempty"`
	Deleted   bool                   `json:"__deleted" bson:"deleted"`
}

// systemFields live at the top level of the document rather than under data.
var systemFields = map[string]bool{
	"_id":        true,
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"updated_by": true,
}

func IsSystemField(name string) bool {
	return systemFields[name]
}
