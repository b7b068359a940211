package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/wa-campaigns-backend/internal/model"
)

type RecipientRepositoryInterface interface {
	AddRecipient(ctx context.Context, rec *model.CampaignRecipient) error
	ReplaceForCampaign(ctx context.Context, campaignID int, contactIDs []int) (int, error)
	ListByCampaign(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error)
	CountByStatus(ctx context.Context, campaignID int) (map[model.RecipientStatus]int, error)
	Transition(ctx context.Context, t model.RecipientTransition) (bool, error)
	GetLatestSentForContact(ctx context.Context, contactID int) (*model.CampaignRecipient, error)
	MarkResponded(ctx context.Context, id int) (bool, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

// AddRecipient is idempotent on (campaign_id, contact_id): when the pair
// already exists the stored row is returned in rec.
func (r *RecipientRepository) AddRecipient(ctx context.Context, rec *model.CampaignRecipient) error {
	if rec.Status == "" {
		rec.Status = model.RecipientPending
	}
	query := `
        INSERT INTO campaign_recipients (campaign_id, contact_id, status, created_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (campaign_id, contact_id) DO UPDATE SET campaign_id = EXCLUDED.campaign_id
        RETURNING id, status, created_at
    `
	err := r.DB.QueryRowContext(ctx, query, rec.CampaignID, rec.ContactID, rec.Status).
		Scan(&rec.ID, &rec.Status, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("add recipient %d to campaign %d: %w", rec.ContactID, rec.CampaignID, err)
	}
	return nil
}

// ReplaceForCampaign drops the campaign's recipients and recreates them from
// the opted-in subset of contactIDs, updating total_messages to match. It
// returns the number of recipients created. Only campaigns that have not
// started (draft or scheduled) can have their audience replaced.
func (r *RecipientRepository) ReplaceForCampaign(ctx context.Context, campaignID int, contactIDs []int) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := lockCampaign(ctx, tx, campaignID, "change the audience of", model.CampaignDraft, model.CampaignScheduled); err != nil {
		return 0, err
	}
	created, err := replaceRecipients(ctx, tx, campaignID, contactIDs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// replaceRecipients runs inside a transaction that already holds the
// campaign row lock.
func replaceRecipients(ctx context.Context, tx *sql.Tx, campaignID int, contactIDs []int) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id=$1`, campaignID); err != nil {
		return 0, fmt.Errorf("clear recipients for campaign %d: %w", campaignID, err)
	}

	ids := make([]int64, len(contactIDs))
	for i, id := range contactIDs {
		ids[i] = int64(id)
	}
	res, err := tx.ExecContext(ctx, `
        INSERT INTO campaign_recipients (campaign_id, contact_id, status, created_at)
        SELECT $1, c.id, 'pending', NOW()
        FROM contacts c
        WHERE c.id = ANY($2) AND c.has_opted_in
        ORDER BY c.id
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
    `, campaignID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("insert recipients for campaign %d: %w", campaignID, err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET total_messages=$1, updated_at=NOW() WHERE id=$2`, created, campaignID); err != nil {
		return 0, fmt.Errorf("update total for campaign %d: %w", campaignID, err)
	}
	return int(created), nil
}

func (r *RecipientRepository) ListByCampaign(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error) {
	query := `
        SELECT id, campaign_id, contact_id, status, provider_message_id, sent_at, status_updated_at, has_responded, last_error, created_at
        FROM campaign_recipients
        WHERE campaign_id=$1
        ORDER BY id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list recipients for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	recipients := []*model.CampaignRecipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func scanRecipient(row rowScanner) (*model.CampaignRecipient, error) {
	var rec model.CampaignRecipient
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Status, &rec.ProviderMessageID,
		&rec.SentAt, &rec.StatusUpdatedAt, &rec.HasResponded, &rec.LastError, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) CountByStatus(ctx context.Context, campaignID int) (map[model.RecipientStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count recipients for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	stats := map[model.RecipientStatus]int{
		model.RecipientPending: 0,
		model.RecipientSent:    0,
		model.RecipientSkipped: 0,
		model.RecipientFailed:  0,
	}
	for rows.Next() {
		var status model.RecipientStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Transition applies a pending -> terminal move. The recipient update, the
// campaign counter and the log entry commit together; if the recipient is
// no longer pending nothing is written and false is returned.
func (r *RecipientRepository) Transition(ctx context.Context, t model.RecipientTransition) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var sentAt *time.Time
	if t.To == model.RecipientSent {
		sentAt = &t.At
	}
	res, err := tx.ExecContext(ctx, `
        UPDATE campaign_recipients
        SET status=$1, provider_message_id=$2, last_error=$3, sent_at=COALESCE($4, sent_at), status_updated_at=$5
        WHERE id=$6 AND status='pending'
    `, t.To, t.ProviderMessageID, t.LastError, sentAt, t.At, t.RecipientID)
	if err != nil {
		return false, fmt.Errorf("update recipient %d: %w", t.RecipientID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if col := t.CounterColumn(); col != "" {
		query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at=$1 WHERE id=$2`, col, col)
		if _, err := tx.ExecContext(ctx, query, t.At, t.CampaignID); err != nil {
			return false, fmt.Errorf("bump %s for campaign %d: %w", col, t.CampaignID, err)
		}
	}

	if t.Log != nil {
		if err := insertMessageLog(ctx, tx, t.Log); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetLatestSentForContact finds the most recent sent recipient row for the
// contact that has not been answered yet.
func (r *RecipientRepository) GetLatestSentForContact(ctx context.Context, contactID int) (*model.CampaignRecipient, error) {
	query := `
        SELECT id, campaign_id, contact_id, status, provider_message_id, sent_at, status_updated_at, has_responded, last_error, created_at
        FROM campaign_recipients
        WHERE contact_id=$1 AND status='sent' AND NOT has_responded
        ORDER BY sent_at DESC NULLS LAST, id DESC
        LIMIT 1
    `
	rec, err := scanRecipient(r.DB.QueryRowContext(ctx, query, contactID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sent recipient for contact %d: %w", contactID, err)
	}
	return rec, nil
}

func (r *RecipientRepository) MarkResponded(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE campaign_recipients SET has_responded=TRUE WHERE id=$1 AND NOT has_responded`, id)
	if err != nil {
		return false, fmt.Errorf("mark recipient %d responded: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
