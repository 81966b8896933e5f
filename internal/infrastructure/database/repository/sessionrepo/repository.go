// Package sessionrepo is the gorm-backed session store.
package sessionrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sidechat/internal/domain/session"
	"sidechat/internal/infrastructure/database/dbschema"
	"sidechat/internal/infrastructure/store"
)

// Repository implements store.SessionStore over postgres.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get retrieves a session by its public ID.
func (r *Repository) Get(ctx context.Context, id string) (*session.Session, error) {
	var row dbschema.Session
	err := r.db.WithContext(ctx).Where("public_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.DtoE(), nil
}

// Save upserts the session keyed by its public ID.
func (r *Repository) Save(ctx context.Context, sess *session.Session) error {
	var row dbschema.Session
	row.EtoD(sess)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "public_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"model_name", "api_mode", "question", "records", "updated_at"}),
		}).
		Create(&row).Error
}

// Delete removes a session by its public ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("public_id = ?", id).Delete(&dbschema.Session{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// List returns all sessions ordered by public ID.
func (r *Repository) List(ctx context.Context) ([]*session.Session, error) {
	var rows []dbschema.Session
	if err := r.db.WithContext(ctx).Order("public_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*session.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].DtoE())
	}
	return out, nil
}
