// Package mongoprofilestore implements mcos.ProfileDocStore against a
// MongoDB collection, the more literal reading of "DocStore" alongside the
// relational pgprofilestore backend.
package mongoprofilestore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// profileDoc is the BSON document shape stored per user.
type profileDoc struct {
	UserID          string                        `bson:"_id"`
	DisplayName     string                        `bson:"displayName,omitempty"`
	Interests       []string                      `bson:"interests,omitempty"`
	Attributes      map[string]string             `bson:"attributes,omitempty"`
	FieldProvenance map[string]mcos.FieldProvenance `bson:"fieldProvenance,omitempty"`
	Version         int64                         `bson:"version"`
	UpdatedAt       time.Time                     `bson:"updatedAt"`
}

// ProfileStore adapts a Mongo collection into mcos.ProfileDocStore.
type ProfileStore struct {
	col *mongo.Collection
	log *logger.Logger
}

func New(col *mongo.Collection, log *logger.Logger) *ProfileStore {
	return &ProfileStore{col: col, log: log.With("component", "mongo_profile_store")}
}

func (s *ProfileStore) Read(ctx context.Context, userID string) (*mcos.UserProfile, error) {
	var doc profileDoc
	err := s.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, mcos.ErrProfileNotFound
	}
	if err != nil {
		return nil, mcos.NewError("Read", mcos.KindTransient, err)
	}
	return docToProfile(doc), nil
}

func (s *ProfileStore) Write(ctx context.Context, profile *mcos.UserProfile, expectedVersion int64) error {
	doc := profileToDoc(profile)

	filter := bson.M{"_id": profile.UserID, "version": expectedVersion}
	update := bson.M{"$set": bson.M{
		"displayName":     doc.DisplayName,
		"interests":       doc.Interests,
		"attributes":      doc.Attributes,
		"fieldProvenance": doc.FieldProvenance,
		"version":         doc.Version,
		"updatedAt":       doc.UpdatedAt,
	}}

	if expectedVersion == 0 {
		opts := options.Update().SetUpsert(true)
		_, err := s.col.UpdateOne(ctx, bson.M{"_id": profile.UserID}, update, opts)
		if err != nil {
			return mcos.NewError("Write", mcos.KindTransient, err)
		}
		return nil
	}

	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return mcos.NewError("Write", mcos.KindTransient, err)
	}
	if res.MatchedCount == 0 {
		return mcos.NewError("Write", mcos.KindStaleWrite, mongo.ErrNoDocuments)
	}
	return nil
}

func (s *ProfileStore) Delete(ctx context.Context, userID string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return mcos.NewError("Delete", mcos.KindTransient, err)
	}
	return nil
}

func docToProfile(doc profileDoc) *mcos.UserProfile {
	return &mcos.UserProfile{
		UserID:          doc.UserID,
		DisplayName:     doc.DisplayName,
		Interests:       doc.Interests,
		Attributes:      doc.Attributes,
		FieldProvenance: doc.FieldProvenance,
		Version:         doc.Version,
		UpdatedAt:       doc.UpdatedAt,
	}
}

func profileToDoc(p *mcos.UserProfile) profileDoc {
	return profileDoc{
		UserID:          p.UserID,
		DisplayName:     p.DisplayName,
		Interests:       p.Interests,
		Attributes:      p.Attributes,
		FieldProvenance: p.FieldProvenance,
		Version:         p.Version,
		UpdatedAt:       p.UpdatedAt,
	}
}
