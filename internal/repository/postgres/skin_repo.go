package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/repository"
)

// SkinRepo implements SkinRepository using PostgreSQL.
type SkinRepo struct{ db *DB }

var _ repository.SkinRepository = (*SkinRepo)(nil)

// NewSkinRepo constructs a skin repository.
func NewSkinRepo(db *DB) *SkinRepo { return &SkinRepo{db: db} }

const skinColumns = `owner_id, name, slim, width, height, image, secondary, ts, updated_at`

// Get loads owner's skin.
func (r *SkinRepo) Get(ctx context.Context, owner uuid.UUID) (*model.StoredSkin, error) {
	const q = `SELECT ` + skinColumns + ` FROM skins WHERE owner_id=$1`
	s, err := scanSkin(r.db.Pool.QueryRow(ctx, q, owner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or replaces owner's skin.
func (r *SkinRepo) Upsert(ctx context.Context, owner uuid.UUID, s *model.StoredSkin) (time.Time, error) {
	const q = `
INSERT INTO skins (owner_id, name, slim, width, height, image, secondary, ts, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
ON CONFLICT (owner_id) DO UPDATE SET
  name=EXCLUDED.name, slim=EXCLUDED.slim, width=EXCLUDED.width, height=EXCLUDED.height,
  image=EXCLUDED.image, secondary=EXCLUDED.secondary, ts=EXCLUDED.ts, updated_at=now()
RETURNING updated_at`
	var updated time.Time
	err := r.db.Pool.QueryRow(ctx, q,
		owner, s.Name, s.Slim, s.Width, s.Height, s.Image, s.Secondary, s.Timestamp,
	).Scan(&updated)
	return updated, err
}

// Delete removes owner's skin.
func (r *SkinRepo) Delete(ctx context.Context, owner uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM skins WHERE owner_id=$1`, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// List returns every stored skin ordered by owner.
func (r *SkinRepo) List(ctx context.Context) ([]model.StoredSkin, error) {
	const q = `SELECT ` + skinColumns + ` FROM skins ORDER BY owner_id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StoredSkin
	for rows.Next() {
		s, err := scanSkin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSkin(row pgx.Row) (model.StoredSkin, error) {
	var (
		s     model.StoredSkin
		owner uuid.UUID
	)
	if err := row.Scan(&owner, &s.Name, &s.Slim, &s.Width, &s.Height, &s.Image, &s.Secondary, &s.Timestamp, &s.UpdatedAt); err != nil {
		return model.StoredSkin{}, err
	}
	s.OwnerID = owner.String()
	return s, nil
}
