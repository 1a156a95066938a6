// Package archive persists the final outcome counts of cleaned tracking
// records so delivery statistics survive the redis retention window.
//
// Expected schema:
//
//	CREATE TABLE delivery_archive (
//	    tracking_id   TEXT PRIMARY KEY,
//	    total         BIGINT NOT NULL,
//	    send_time     TIMESTAMPTZ NOT NULL,
//	    pending       BIGINT NOT NULL,
//	    sent          BIGINT NOT NULL,
//	    success       BIGINT NOT NULL,
//	    user_block    BIGINT NOT NULL,
//	    system_failed BIGINT NOT NULL,
//	    send_error    BIGINT NOT NULL,
//	    archived_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is the final snapshot of one tracking record at cleanup time.
type Record struct {
	TrackingID   string
	Total        int64
	SendTime     time.Time
	Pending      int64
	Sent         int64
	Success      int64
	UserBlock    int64
	SystemFailed int64
	SendError    int64
}

// Repository stores final delivery snapshots.
type Repository interface {
	Save(ctx context.Context, record Record) error
}

type pgRepository struct {
	db *pgxpool.Pool
}

// NewPgRepository creates a postgres-backed archive repository.
func NewPgRepository(db *pgxpool.Pool) Repository {
	return &pgRepository{db: db}
}

// Save inserts a snapshot. A requeued cleanup job may run after the
// retention-window one already archived the record, so conflicts are
// ignored.
func (r *pgRepository) Save(ctx context.Context, record Record) error {
	query := `
		INSERT INTO delivery_archive
			(tracking_id, total, send_time, pending, sent, success, user_block, system_failed, send_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tracking_id) DO NOTHING`
	_, err := r.db.Exec(ctx, query,
		record.TrackingID, record.Total, record.SendTime,
		record.Pending, record.Sent, record.Success,
		record.UserBlock, record.SystemFailed, record.SendError)
	if err != nil {
		return fmt.Errorf("failed to archive record %s: %w", record.TrackingID, err)
	}
	return nil
}
