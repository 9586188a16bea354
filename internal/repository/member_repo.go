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

// MemberRepo owns per-session score records and their audit history.
// Scores move only through ApplyAward increments; the one exception is
// ResetScores.
type MemberRepo interface {
	Create(ctx context.Context, member *model.Member) error
	Get(ctx context.Context, sessionID, userID string) (*model.Member, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.Member, error)

	// ApplyAward applies one award event exactly once. The idempotency
	// marker and the score increment land in a single write, so a
	// failure leaves either both or neither; a replayed event returns
	// applied=false with no other effect.
	ApplyAward(ctx context.Context, event *model.AwardEvent, at time.Time) (applied bool, err error)

	History(ctx context.Context, sessionID, userID string) ([]*model.ScoreEntry, error)
	ResetScores(ctx context.Context, sessionID string) error
	DeleteBySession(ctx context.Context, sessionID string) error
}

type memberRepo struct {
	members *mongo.Collection
	history *mongo.Collection
}

func NewMemberRepo(db *mongo.Database) MemberRepo {
	return &memberRepo{
		members: db.Collection("members"),
		history: db.Collection("score_history"),
	}
}

func memberID(sessionID, userID string) string {
	return sessionID + ":" + userID
}

func (r *memberRepo) Create(ctx context.Context, member *model.Member) error {
	doc := bson.M{
		"_id":         memberID(member.SessionID, member.UserID),
		"sessionId":   member.SessionID,
		"userId":      member.UserID,
		"displayName": member.DisplayName,
		"score":       member.Score,
		"joinedAt":    member.JoinedAt,
	}
	_, err := r.members.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil // Rejoin: keep the existing record and score
	}
	return err
}

func (r *memberRepo) Get(ctx context.Context, sessionID, userID string) (*model.Member, error) {
	var doc memberDoc
	err := r.members.FindOne(ctx, bson.M{"_id": memberID(sessionID, userID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toMember(), nil
}

func (r *memberRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Member, error) {
	cursor, err := r.members.Find(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []memberDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	members := make([]*model.Member, len(docs))
	for i := range docs {
		members[i] = docs[i].toMember()
	}
	return members, nil
}

func (r *memberRepo) ApplyAward(ctx context.Context, event *model.AwardEvent, at time.Time) (bool, error) {
	// The applied-event ids live inside the member document, so one
	// conditional update carries both the idempotency marker and the
	// increment: a failed write leaves neither behind, and a retry of
	// the same event can never find the marker without its points.
	// Replays either miss the filter (id already present) and trip the
	// _id duplicate on the upsert insert, or the document is absent and
	// the upsert creates it.
	_, err := r.members.UpdateOne(ctx,
		bson.M{
			"_id":           memberID(event.SessionID, event.UserID),
			"appliedEvents": bson.M{"$ne": event.ID},
		},
		bson.M{
			"$inc":  bson.M{"score": event.Points},
			"$push": bson.M{"appliedEvents": event.ID},
			"$setOnInsert": bson.M{
				"sessionId": event.SessionID,
				"userId":    event.UserID,
				"joinedAt":  at,
			},
		},
		options.Update().SetUpsert(true),
	)
	applied := true
	if mongo.IsDuplicateKeyError(err) {
		applied = false
		err = nil
	}
	if err != nil {
		return false, err
	}

	// The audit line is written even on a replay, duplicate-tolerated,
	// so a retry after a crash between the score write and this insert
	// still completes the history.
	_, err = r.history.InsertOne(ctx, &model.ScoreEntry{
		ID:        event.ID,
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Points:    event.Points,
		Reason:    event.Reason,
		AwardedAt: at,
	})
	if mongo.IsDuplicateKeyError(err) {
		err = nil
	}
	return applied, err
}

func (r *memberRepo) History(ctx context.Context, sessionID, userID string) ([]*model.ScoreEntry, error) {
	cursor, err := r.history.Find(ctx,
		bson.M{"sessionId": sessionID, "userId": userID},
		options.Find().SetSort(bson.M{"awardedAt": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*model.ScoreEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *memberRepo) ResetScores(ctx context.Context, sessionID string) error {
	_, err := r.members.UpdateMany(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{"$set": bson.M{"score": 0}},
	)
	return err
}

func (r *memberRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	filter := bson.M{"sessionId": sessionID}
	if _, err := r.members.DeleteMany(ctx, filter); err != nil {
		return err
	}
	_, err := r.history.DeleteMany(ctx, filter)
	return err
}

// memberDoc keeps the composite _id and the applied-event ledger out of
// the model type.
type memberDoc struct {
	ID          string    `bson:"_id"`
	SessionID   string    `bson:"sessionId"`
	UserID      string    `bson:"userId"`
	DisplayName string    `bson:"displayName"`
	Score       int       `bson:"score"`
	JoinedAt    time.Time `bson:"joinedAt"`
}

func (d *memberDoc) toMember() *model.Member {
	return &model.Member{
		UserID:      d.UserID,
		SessionID:   d.SessionID,
		DisplayName: d.DisplayName,
		Score:       d.Score,
		JoinedAt:    d.JoinedAt,
	}
}
