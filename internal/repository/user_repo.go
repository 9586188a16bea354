package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classpulse/internal/model"
)

// UserRepo owns the cross-session lifetime aggregate. The lifetime sync
// is keyed by event id independently of the member-score step, so either
// side can be retried without the other double-applying.
type UserRepo interface {
	Get(ctx context.Context, userID string) (*model.UserProfile, error)
	ApplyLifetimeDelta(ctx context.Context, eventID, userID string, delta int, at time.Time) (applied bool, err error)
}

type userRepo struct {
	users *mongo.Collection
}

func NewUserRepo(db *mongo.Database) UserRepo {
	return &userRepo{users: db.Collection("users")}
}

func (r *userRepo) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := r.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *userRepo) ApplyLifetimeDelta(ctx context.Context, eventID, userID string, delta int, at time.Time) (bool, error) {
	// Marker and increment in one conditional update, same shape as
	// ApplyAward: a failed write leaves nothing behind, so a retry can
	// never skip points that were not applied.
	_, err := r.users.UpdateOne(ctx,
		bson.M{
			"_id":           userID,
			"appliedEvents": bson.M{"$ne": eventID},
		},
		bson.M{
			"$inc":  bson.M{"lifetimePoints": delta},
			"$push": bson.M{"appliedEvents": eventID},
			"$set":  bson.M{"updatedAt": at},
		},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
