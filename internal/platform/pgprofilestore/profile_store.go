// Package pgprofilestore implements mcos.ProfileDocStore against
// PostgreSQL via gorm, adapted from the teacher's manual
// select-then-update-or-insert repository pattern.
package pgprofilestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// ProfileRow is the gorm model backing the user_profiles table.
type ProfileRow struct {
	UserID          string         `gorm:"primaryKey;column:user_id"`
	DisplayName     string         `gorm:"column:display_name"`
	Interests       datatypes.JSON `gorm:"column:interests"`
	Attributes      datatypes.JSON `gorm:"column:attributes"`
	FieldProvenance datatypes.JSON `gorm:"column:field_provenance"`
	Version         int64          `gorm:"column:version"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (ProfileRow) TableName() string { return "user_profiles" }

// ProfileStore adapts gorm-backed rows into mcos.ProfileDocStore.
type ProfileStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, log *logger.Logger) *ProfileStore {
	return &ProfileStore{db: db, log: log.With("component", "pg_profile_store")}
}

func (s *ProfileStore) Read(ctx context.Context, userID string) (*mcos.UserProfile, error) {
	var row ProfileRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, mcos.ErrProfileNotFound
	}
	if err != nil {
		return nil, mcos.NewError("Read", mcos.KindTransient, err)
	}
	return rowToProfile(row)
}

func (s *ProfileStore) Write(ctx context.Context, profile *mcos.UserProfile, expectedVersion int64) error {
	row, err := profileToRow(profile)
	if err != nil {
		return mcos.NewError("Write", mcos.KindInvalidInput, err)
	}

	if expectedVersion == 0 {
		// First write for this user: plain insert; if a concurrent first
		// writer already holds the primary key, the insert does nothing
		// and Write reports a stale write.
		created := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if created.Error != nil {
			return mcos.NewError("Write", mcos.KindTransient, created.Error)
		}
		if created.RowsAffected == 0 {
			return mcos.NewError("Write", mcos.KindStaleWrite, errors.New("profile already exists"))
		}
		res := s.db.WithContext(ctx).Model(&ProfileRow{}).Where("user_id = ? AND version = ?", profile.UserID, int64(0)).
			Updates(map[string]interface{}{
				"display_name":     row.DisplayName,
				"interests":        row.Interests,
				"attributes":       row.Attributes,
				"field_provenance": row.FieldProvenance,
				"version":          row.Version,
				"updated_at":       row.UpdatedAt,
			})
		if res.Error != nil {
			return mcos.NewError("Write", mcos.KindTransient, res.Error)
		}
		return nil
	}

	res := s.db.WithContext(ctx).Model(&ProfileRow{}).
		Where("user_id = ? AND version = ?", profile.UserID, expectedVersion).
		Updates(map[string]interface{}{
			"display_name":     row.DisplayName,
			"interests":        row.Interests,
			"attributes":       row.Attributes,
			"field_provenance": row.FieldProvenance,
			"version":          row.Version,
			"updated_at":       row.UpdatedAt,
		})
	if res.Error != nil {
		return mcos.NewError("Write", mcos.KindTransient, res.Error)
	}
	if res.RowsAffected == 0 {
		return mcos.NewError("Write", mcos.KindStaleWrite, errors.New("profile version mismatch"))
	}
	return nil
}

func (s *ProfileStore) Delete(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&ProfileRow{}).Error; err != nil {
		return mcos.NewError("Delete", mcos.KindTransient, err)
	}
	return nil
}

func rowToProfile(row ProfileRow) (*mcos.UserProfile, error) {
	p := &mcos.UserProfile{
		UserID:      row.UserID,
		DisplayName: row.DisplayName,
		Version:     row.Version,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Interests) > 0 {
		if err := json.Unmarshal(row.Interests, &p.Interests); err != nil {
			return nil, err
		}
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &p.Attributes); err != nil {
			return nil, err
		}
	}
	if len(row.FieldProvenance) > 0 {
		if err := json.Unmarshal(row.FieldProvenance, &p.FieldProvenance); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func profileToRow(p *mcos.UserProfile) (ProfileRow, error) {
	interests, err := json.Marshal(p.Interests)
	if err != nil {
		return ProfileRow{}, err
	}
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return ProfileRow{}, err
	}
	prov, err := json.Marshal(p.FieldProvenance)
	if err != nil {
		return ProfileRow{}, err
	}
	return ProfileRow{
		UserID:          p.UserID,
		DisplayName:     p.DisplayName,
		Interests:       datatypes.JSON(interests),
		Attributes:      datatypes.JSON(attrs),
		FieldProvenance: datatypes.JSON(prov),
		Version:         p.Version,
		UpdatedAt:       p.UpdatedAt,
	}, nil
}
