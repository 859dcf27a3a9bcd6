package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is a single post stored in MongoDB. UpvoterIDs and DownvoterIDs
// hold user ids and are disjoint at all times; Score is derived from their
// sizes on the way out and never persisted.
type Message struct {
	ID           primitive.ObjectID `json:"id"            bson:"_id,omitempty"`
	Title        string             `json:"title"         bson:"title"`
	Text         string             `json:"text"          bson:"text"`
	ImageURL     string             `json:"imageURL"      bson:"image_url,omitempty"`
	Community    string             `json:"community"     bson:"community"`
	Author       string             `json:"author"        bson:"author"`
	UserID       string             `json:"userID"        bson:"user_id"`
	UpvoterIDs   []string           `json:"upvoterIDs"    bson:"upvoter_ids"`
	DownvoterIDs []string           `json:"downvoterIDs"  bson:"downvoter_ids"`
	Score        int                `json:"score"         bson:"-"`
	CreatedAt    time.Time          `json:"createdAt"     bson:"created_at"`
}

// Comment belongs to a message and is never editable, only deletable by
// its author.
type Comment struct {
	ID        primitive.ObjectID `json:"id"         bson:"_id,omitempty"`
	Text      string             `json:"text"       bson:"text"`
	Author    string             `json:"author"     bson:"author"`
	UserID    string             `json:"userID"     bson:"user_id"`
	MessageID string             `json:"messageID"  bson:"message_id"`
	CreatedAt time.Time          `json:"createdAt"  bson:"created_at"`
}

// CreateMessageRequest is the JSON body for POST /api/messages.
type CreateMessageRequest struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	ImageURL  string `json:"imageURL"`
	Community string `json:"community"`
}

// UpdateMessageRequest is the JSON body for PUT /api/messages/{id}.
// Empty fields keep their current value.
type UpdateMessageRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// VoteRequest is the JSON body for POST /api/messages/{id}/vote.
type VoteRequest struct {
	Type string `json:"type"` // "up" or "down"
}

// VoteResult reports the vote counts after a toggle.
type VoteResult struct {
	Success   bool `json:"success"`
	Upvotes   int  `json:"upvotes"`
	Downvotes int  `json:"downvotes"`
	Score     int  `json:"score"`
}

// CreateCommentRequest is the JSON body for POST /api/messages/{id}/comments.
type CreateCommentRequest struct {
	Text string `json:"text"`
}
