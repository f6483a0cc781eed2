package repository

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskhub/internal/models"
	"taskhub/pkg/logger"
)

// MongoStore keeps tasks in a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore wraps a task collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// Create inserts a new task.
func (s *MongoStore) Create(ctx context.Context, t *models.Task) error {
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	if _, err := s.coll.InsertOne(ctx, t); err != nil {
		logger.Error(ctx, "Repository Create failed", "error", err)
		return err
	}
	return nil
}

// List returns the owner's tasks matching f, newest first.
func (s *MongoStore) List(ctx context.Context, owner string, f models.TaskFilter) ([]models.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.coll.Find(ctx, listFilter(owner, f), opts)
	if err != nil {
		logger.Error(ctx, "Repository List failed", "error", err)
		return nil, err
	}
	tasks := []models.Task{}
	if err := cur.All(ctx, &tasks); err != nil {
		logger.Error(ctx, "Repository decode tasks failed", "error", err)
		return nil, err
	}
	return tasks, nil
}

func listFilter(owner string, f models.TaskFilter) bson.M {
	q := bson.M{"owner": owner}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.Priority != "" {
		q["priority"] = f.Priority
	}
	if f.Completed != nil {
		q["completed"] = *f.Completed
	}
	if f.Query != "" {
		q["name"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.Query), Options: "i"}
	}
	return q
}

// Update applies patch in a single round trip. updatedAt becomes
// max(now, previous+1ms) so it always advances.
func (s *MongoStore) Update(ctx context.Context, owner, id string, patch models.TaskPatch) (*models.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	set := bson.D{}
	if patch.Completed != nil {
		set = append(set, bson.E{Key: "completed", Value: *patch.Completed})
	}
	if patch.Name != nil {
		// Pipeline stages treat "$..." strings as field paths.
		set = append(set, bson.E{Key: "name", Value: bson.D{{Key: "$literal", Value: *patch.Name}}})
	}
	set = append(set, bson.E{Key: "updatedAt", Value: bson.D{{Key: "$max", Value: bson.A{
		now,
		bson.D{{Key: "$add", Value: bson.A{"$updatedAt", 1}}},
	}}}})
	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}

	var t models.Task
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "owner": owner},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error(ctx, "Repository Update failed", "error", err, "id", id)
		return nil, err
	}
	return &t, nil
}

// Delete removes a task by ID and owner.
func (s *MongoStore) Delete(ctx context.Context, owner, id string) (*models.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var t models.Task
	err = s.coll.FindOneAndDelete(ctx, bson.M{"_id": oid, "owner": owner}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error(ctx, "Repository Delete failed", "error", err, "id", id)
		return nil, err
	}
	return &t, nil
}
