package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps challenges in a MongoDB collection. The answered and
// rewarded transitions are conditional single-document updates, which
// MongoDB applies atomically.
type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection, now: time.Now}
}

// EnsureIndexes creates the unique escrow reference index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "escrowReference", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("escrow_reference_unique"),
	})
	if err != nil {
		return fmt.Errorf("challenge: create escrow index: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, c *Challenge) (string, error) {
	row := clone(c)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}

	if _, err := s.collection.InsertOne(ctx, row); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateEscrow, row.EscrowReference)
		}
		return "", fmt.Errorf("challenge: insert: %w", err)
	}
	return row.ID, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Challenge, error) {
	var c Challenge
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("challenge: get %s: %w", id, err)
	}
	return &c, nil
}

func (s *MongoStore) CompareAndSetAnswered(ctx context.Context, id, answer string, isCorrect bool) error {
	filter := bson.M{"_id": id, "answered": false}
	update := bson.M{
		"$set": bson.M{
			"answered":        true,
			"answeredAt":      s.now().UTC(),
			"submittedAnswer": answer,
			"isCorrect":       isCorrect,
		},
	}
	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("challenge: mark answered %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAlreadyAnswered, id)
}

func (s *MongoStore) CompareAndSetRewarded(ctx context.Context, id, rewardRef string) error {
	filter := bson.M{"_id": id, "answered": true, "isCorrect": true, "rewarded": false}
	update := bson.M{
		"$set": bson.M{
			"rewarded":        true,
			"rewardedAt":      s.now().UTC(),
			"rewardReference": rewardRef,
		},
	}
	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("challenge: mark rewarded %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Rewarded {
		return fmt.Errorf("%w: %s", ErrAlreadyRewarded, id)
	}
	return fmt.Errorf("%w: %s", ErrNotEligible, id)
}

func (s *MongoStore) CountAll(ctx context.Context) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("challenge: count: %w", err)
	}
	return n, nil
}
