package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Workspace groups a user's documents, typically one per project or course.
// Membership lives here as an id list; deleting a document pulls its id.
type Workspace struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID      string               `bson:"user_id" json:"user_id"`
	Name        string               `bson:"name" json:"name"`
	DocumentIDs []primitive.ObjectID `bson:"document_ids,omitempty" json:"document_ids,omitempty"`
	CreatedAt   time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at" json:"updated_at"`
}

// DefaultWorkspaceName is where uploads land when the caller names no
// workspace.
const DefaultWorkspaceName = "My Library"
