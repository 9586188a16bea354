package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"classpulse/internal/model"
)

type SessionRepo interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	GetByCode(ctx context.Context, joinCode string) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, id string) error
	// ListExpired returns sessions whose retention window has passed.
	ListExpired(ctx context.Context, now time.Time) ([]*model.Session, error)
}

type sessionRepo struct {
	collection *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepo {
	return &sessionRepo{
		collection: db.Collection("sessions"),
	}
}

func (r *sessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.collection.InsertOne(ctx, session)
	return err
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Session not found
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) GetByCode(ctx context.Context, joinCode string) (*model.Session, error) {
	var session model.Session
	err := r.collection.FindOne(ctx, bson.M{
		"joinCode": joinCode,
		"status":   model.SessionActive,
	}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Update(ctx context.Context, session *model.Session) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": session.ID}, session)
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *sessionRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.Session, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"expiresAt": bson.M{"$lt": now}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*model.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
