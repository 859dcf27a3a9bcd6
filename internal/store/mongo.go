package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eren/reddilite/internal/models"
)

// MongoStore handles message and comment CRUD in MongoDB.
type MongoStore struct {
	messages *mongo.Collection
	comments *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		messages: db.Collection("messages"),
		comments: db.Collection("comments"),
	}
}

func (s *MongoStore) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	msg.CreatedAt = time.Now()
	if msg.UpvoterIDs == nil {
		msg.UpvoterIDs = []string{}
	}
	if msg.DownvoterIDs == nil {
		msg.DownvoterIDs = []string{}
	}
	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("mongo insert message: %w", err)
	}
	oid := res.InsertedID.(primitive.ObjectID)
	return oid.Hex(), nil
}

// ListMessages returns all messages newest first. Score-based ordering is
// applied by the caller since score is derived, not stored.
func (s *MongoStore) ListMessages(ctx context.Context) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.messages.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var msgs []models.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var msg models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageText sets a message's title and text and returns the
// updated document.
func (s *MongoStore) UpdateMessageText(ctx context.Context, id, title, text string) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	update := bson.M{"$set": bson.M{"title": title, "text": text}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg models.Message
	err = s.messages.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapVotes replaces a message's vote sets only if they still
// match the sets the caller read. Returns false when a concurrent vote got
// in first; the caller re-reads and retries. The filter on the prior arrays
// makes the read-modify-write atomic at the document level.
func (s *MongoStore) CompareAndSwapVotes(ctx context.Context, id string, oldUp, oldDown, newUp, newDown []string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, ErrNotFound
	}
	filter := bson.M{
		"_id":           oid,
		"upvoter_ids":   oldUp,
		"downvoter_ids": oldDown,
	}
	update := bson.M{"$set": bson.M{
		"upvoter_ids":   newUp,
		"downvoter_ids": newDown,
	}}
	res, err := s.messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongo vote update: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) InsertComment(ctx context.Context, c *models.Comment) (string, error) {
	c.CreatedAt = time.Now()
	res, err := s.comments.InsertOne(ctx, c)
	if err != nil {
		return "", fmt.Errorf("mongo insert comment: %w", err)
	}
	oid := res.InsertedID.(primitive.ObjectID)
	return oid.Hex(), nil
}

// ListComments returns a message's comments oldest first.
func (s *MongoStore) ListComments(ctx context.Context, messageID string) ([]models.Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.comments.Find(ctx, bson.M{"message_id": messageID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var comments []models.Comment
	if err := cur.All(ctx, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *MongoStore) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var c models.Comment
	if err := s.comments.FindOne(ctx, bson.M{"_id": oid}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) DeleteComment(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.comments.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCommentsByMessage removes all comments of a deleted message.
func (s *MongoStore) DeleteCommentsByMessage(ctx context.Context, messageID string) error {
	_, err := s.comments.DeleteMany(ctx, bson.M{"message_id": messageID})
	return err
}
