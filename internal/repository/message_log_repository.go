package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/wa-campaigns-backend/internal/model"
)

type MessageLogRepositoryInterface interface {
	// AddMessageLogEntry stores entry. An inbound entry whose provider id is
	// already logged is dropped and entry.ID stays zero.
	AddMessageLogEntry(ctx context.Context, entry *model.MessageLog) error
	InboundRecorded(ctx context.Context, providerMessageID string) (bool, error)
	ListByCampaign(ctx context.Context, campaignID int) ([]*model.MessageLog, error)
	ApplyDeliveryStatus(ctx context.Context, providerMessageID, status string) (*model.DeliveryUpdate, error)
}

type MessageLogRepository struct {
	DB *sql.DB
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertMessageLog(ctx context.Context, q execQuerier, e *model.MessageLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `
        INSERT INTO message_logs (campaign_id, contact_id, from_address, to_address, body, template_id, direction,
            status, provider_message_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (provider_message_id) WHERE direction = 'inbound' AND provider_message_id <> '' DO NOTHING
        RETURNING id
    `
	err := q.QueryRowContext(ctx, query,
		e.CampaignID, e.ContactID, e.From, e.To, e.Body, e.TemplateID, e.Direction,
		e.Status, e.ProviderMessageID, e.CreatedAt,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert message log: %w", err)
	}
	return nil
}

func (r *MessageLogRepository) AddMessageLogEntry(ctx context.Context, entry *model.MessageLog) error {
	return insertMessageLog(ctx, r.DB, entry)
}

func (r *MessageLogRepository) InboundRecorded(ctx context.Context, providerMessageID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM message_logs WHERE provider_message_id=$1 AND direction='inbound')
    `, providerMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("look up inbound message %s: %w", providerMessageID, err)
	}
	return exists, nil
}

func (r *MessageLogRepository) ListByCampaign(ctx context.Context, campaignID int) ([]*model.MessageLog, error) {
	query := `
        SELECT id, campaign_id, contact_id, from_address, to_address, body, template_id, direction, status,
               provider_message_id, created_at
        FROM message_logs
        WHERE campaign_id=$1
        ORDER BY id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list message logs for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	entries := []*model.MessageLog{}
	for rows.Next() {
		var e model.MessageLog
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.ContactID, &e.From, &e.To, &e.Body, &e.TemplateID,
			&e.Direction, &e.Status, &e.ProviderMessageID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ApplyDeliveryStatus records a provider status callback on the outbound
// entry with the given provider id. Returns nil, nil when no entry matches.
func (r *MessageLogRepository) ApplyDeliveryStatus(ctx context.Context, providerMessageID, status string) (*model.DeliveryUpdate, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		id         int
		campaignID *int
		previous   string
	)
	err = tx.QueryRowContext(ctx, `
        SELECT id, campaign_id, status FROM message_logs
        WHERE provider_message_id=$1 AND direction='outbound'
        ORDER BY id DESC LIMIT 1
        FOR UPDATE
    `, providerMessageID).Scan(&id, &campaignID, &previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load message log %s: %w", providerMessageID, err)
	}

	update := &model.DeliveryUpdate{CampaignID: campaignID, Previous: previous, Current: previous}
	if !model.AdvancesDelivery(previous, status) {
		return update, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE message_logs SET status=$1 WHERE id=$2`, status, id); err != nil {
		return nil, fmt.Errorf("update message log %d: %w", id, err)
	}
	update.Current = status
	update.Delivered, update.Read = model.DeliveryDeltas(previous, status)

	if campaignID != nil && (update.Delivered > 0 || update.Read > 0) {
		_, err := tx.ExecContext(ctx, `
            UPDATE campaigns SET delivered_count = delivered_count + $1, read_count = read_count + $2 WHERE id=$3
        `, update.Delivered, update.Read, *campaignID)
		if err != nil {
			return nil, fmt.Errorf("bump delivery counters for campaign %d: %w", *campaignID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return update, nil
}

var _ MessageLogRepositoryInterface = (*MessageLogRepository)(nil)
