package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/models"
)

type CouponRepo struct {
	DB DBTX
}

const createCouponUsage = `-- name: CreateCouponUsage
INSERT INTO coupon_usages (id, coupon_id, user_id, external_event_id, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, coupon_id, user_id, external_event_id, created_at
`

func (r *CouponRepo) CreateUsage(ctx context.Context, usage models.CouponUsage) (models.CouponUsage, error) {
	rows, _ := r.DB.Query(ctx, createCouponUsage, usage.ID, usage.CouponID, usage.UserID, usage.ExternalEventID, usage.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToCouponUsage)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, apperrors.ErrCouponAlreadyUsed
		}

		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const listCouponUsages = `-- name: ListCouponUsages
SELECT id, coupon_id, user_id, external_event_id, created_at FROM coupon_usages
WHERE coupon_id = $1
ORDER BY created_at DESC
`

func (r *CouponRepo) ListUsages(ctx context.Context, couponID string) ([]models.CouponUsage, error) {
	rows, _ := r.DB.Query(ctx, listCouponUsages, couponID)
	usages, err := pgx.CollectRows(rows, rowToCouponUsage)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return usages, nil
}

func rowToCouponUsage(row pgx.CollectableRow) (models.CouponUsage, error) {
	var u models.CouponUsage
	err := row.Scan(&u.ID, &u.CouponID, &u.UserID, &u.ExternalEventID, &u.CreatedAt)
	return u, err
}
