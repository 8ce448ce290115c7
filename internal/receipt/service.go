// Package receipt archives accepted votes durably. The hot path lives in
// the realtime store; rows land here asynchronously off the event bus, so
// a slow database never delays a participant's vote.
package receipt

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/votefore/livepoll/internal/domain"
	"github.com/votefore/livepoll/internal/event"
)

// Schema for the receipts table. Receipts are append-only; nothing ever
// updates a row.
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id         UUID PRIMARY KEY,
	session_id         TEXT NOT NULL,
	participant_handle TEXT NOT NULL,
	option_id          TEXT NOT NULL,
	option_label       TEXT NOT NULL,
	cast_at            BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS receipts_session_idx ON receipts (session_id, cast_at);
`

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB}

	c.EventBus.Subscribe(domain.EventNameVoteAccepted, func(ctx context.Context, e event.Event) error {
		return s.InsertReceipt(ctx, e.(domain.EventVoteAccepted).Receipt)
	})

	return s
}

func (s *Service) InsertReceipt(ctx context.Context, r domain.Receipt) error {
	const stmt = `
INSERT INTO receipts (receipt_id, session_id, participant_handle, option_id, option_label, cast_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (receipt_id) DO NOTHING;`

	_, err := s.db.Exec(ctx, stmt, r.ReceiptID, r.SessionID, r.ParticipantHandle, r.OptionID, r.OptionLabel, r.CastAt)
	if err != nil {
		return fmt.Errorf("receipt: insert %s: %w", r.ReceiptID, err)
	}

	return nil
}

type ListReceiptsRequest struct {
	SessionID string
}

func (s *Service) ListReceipts(ctx context.Context, req ListReceiptsRequest) ([]domain.Receipt, error) {
	const stmt = `
SELECT receipt_id, session_id, participant_handle, option_id, option_label, cast_at
FROM receipts
WHERE session_id = $1
ORDER BY cast_at;`

	rows, err := s.db.Query(ctx, stmt, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("receipt: list for %s: %w", req.SessionID, err)
	}

	receipts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Receipt, error) {
		var rec domain.Receipt
		err := r.Scan(&rec.ReceiptID, &rec.SessionID, &rec.ParticipantHandle, &rec.OptionID, &rec.OptionLabel, &rec.CastAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: collect for %s: %w", req.SessionID, err)
	}

	return receipts, nil
}

// PurgeReceipts drops every archived receipt for a session. Destructive;
// only the admin reset path calls it, and only when explicitly asked to.
func (s *Service) PurgeReceipts(ctx context.Context, sessionID string) error {
	const stmt = `DELETE FROM receipts WHERE session_id = $1;`

	if _, err := s.db.Exec(ctx, stmt, sessionID); err != nil {
		return fmt.Errorf("receipt: purge %s: %w", sessionID, err)
	}

	return nil
}
