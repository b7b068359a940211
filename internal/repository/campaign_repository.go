package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	// Update rewrites a draft campaign. A non-nil contactIDs replaces the
	// audience in the same transaction and sets c.TotalMessages.
	Update(ctx context.Context, c *model.Campaign, contactIDs []int) error
	Delete(ctx context.Context, id int) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)

	// Dispatch
	GetWithRecipients(ctx context.Context, id int) (*model.Campaign, error)
	GetStatus(ctx context.Context, id int) (model.CampaignStatus, error)
	FindCampaigns(ctx context.Context, status model.CampaignStatus, scheduledBefore *time.Time) ([]*model.Campaign, error)
	TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	SetTotalMessages(ctx context.Context, id, total int) error
	IncrementCounters(ctx context.Context, id int, delivered, read, responses int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, description, template_id, status, scheduled_at, created_at, created_by, updated_at,
	audience_filter, variable1, variable2, variable3,
	total_messages, sent_count, delivered_count, read_count, failed_count, response_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.TemplateID, &c.Status, &c.ScheduledAt, &c.CreatedAt, &c.CreatedBy, &c.UpdatedAt,
		&c.AudienceFilter, &c.Variable1, &c.Variable2, &c.Variable3,
		&c.TotalMessages, &c.SentCount, &c.DeliveredCount, &c.ReadCount, &c.FailedCount, &c.ResponseCount,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, description, template_id, status, scheduled_at, created_at, created_by,
            audience_filter, variable1, variable2, variable3, total_messages)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		c.Name, c.Description, c.TemplateID, c.Status, c.ScheduledAt, c.CreatedAt, c.CreatedBy,
		c.AudienceFilter, c.Variable1, c.Variable2, c.Variable3, c.TotalMessages,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// Update rewrites the editable fields of a draft campaign. Counters and
// total_messages are owned by the recipient repository and are not touched.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign, contactIDs []int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockCampaign(ctx, tx, c.ID, "update", model.CampaignDraft); err != nil {
		return err
	}

	now := time.Now()
	query := `
        UPDATE campaigns
        SET name=$1, description=$2, template_id=$3, status=$4, scheduled_at=$5, audience_filter=$6,
            variable1=$7, variable2=$8, variable3=$9, updated_at=$10
        WHERE id=$11
    `
	_, err = tx.ExecContext(ctx, query,
		c.Name, c.Description, c.TemplateID, c.Status, c.ScheduledAt, c.AudienceFilter,
		c.Variable1, c.Variable2, c.Variable3, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update campaign %d: %w", c.ID, err)
	}

	if contactIDs != nil {
		total, err := replaceRecipients(ctx, tx, c.ID, contactIDs)
		if err != nil {
			return err
		}
		c.TotalMessages = total
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.UpdatedAt = &now
	return nil
}

// lockCampaign takes the row lock on a campaign inside tx and checks that it
// is in one of the allowed statuses.
func lockCampaign(ctx context.Context, tx *sql.Tx, id int, op string, allowed ...model.CampaignStatus) error {
	var status model.CampaignStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("lock campaign %d: %w", id, err)
	}
	for _, s := range allowed {
		if status == s {
			return nil
		}
	}
	return appErrors.NewInvalidState(id, string(status), op)
}

// Delete removes a draft campaign; recipients go with it through ON DELETE CASCADE.
func (r *CampaignRepository) Delete(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1 AND status='draft'`, id)
	if err != nil {
		return fmt.Errorf("delete campaign %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.draftOnly(ctx, id, "delete")
	}
	return nil
}

// draftOnly explains why a draft-guarded statement matched no row.
func (r *CampaignRepository) draftOnly(ctx context.Context, id int, op string) error {
	status, err := r.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.NewInvalidState(id, string(status), op)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE ($1 = '' OR status = $1)
        ORDER BY id DESC LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE ($1 = '' OR status = $1)`
	if err := r.DB.QueryRowContext(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	return campaigns, total, nil
}

// ====================== Dispatch ======================

// GetWithRecipients loads the campaign and all its recipients, each joined
// with its contact. Recipients come back in ascending id order.
func (r *CampaignRepository) GetWithRecipients(ctx context.Context, id int) (*model.Campaign, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	query := `
        SELECT r.id, r.campaign_id, r.contact_id, r.status, r.provider_message_id, r.sent_at, r.status_updated_at,
               r.has_responded, r.last_error, r.created_at,
               ct.id, ct.phone, ct.name, ct.has_opted_in, ct.opt_in_date, ct.tags, ct.last_contact_at, ct.created_at
        FROM campaign_recipients r
        LEFT JOIN contacts ct ON ct.id = r.contact_id
        WHERE r.campaign_id = $1
        ORDER BY r.id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load recipients for campaign %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec         model.CampaignRecipient
			contactID   sql.NullInt64
			phone, name sql.NullString
			optedIn     sql.NullBool
			tags        sql.NullString
			createdAt   sql.NullTime
			optInDate   *time.Time
			lastContact *time.Time
		)
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Status, &rec.ProviderMessageID, &rec.SentAt, &rec.StatusUpdatedAt,
			&rec.HasResponded, &rec.LastError, &rec.CreatedAt,
			&contactID, &phone, &name, &optedIn, &optInDate, &tags, &lastContact, &createdAt,
		); err != nil {
			return nil, err
		}
		if contactID.Valid {
			rec.Contact = &model.Contact{
				ID:            int(contactID.Int64),
				Phone:         phone.String,
				Name:          name.String,
				HasOptedIn:    optedIn.Bool,
				OptInDate:     optInDate,
				Tags:          tags.String,
				LastContactAt: lastContact,
				CreatedAt:     createdAt.Time,
			}
		}
		c.Recipients = append(c.Recipients, &rec)
	}
	return c, rows.Err()
}

func (r *CampaignRepository) GetStatus(ctx context.Context, id int) (model.CampaignStatus, error) {
	var status model.CampaignStatus
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.NewCampaignNotFound(id)
		}
		return "", fmt.Errorf("get campaign %d status: %w", id, err)
	}
	return status, nil
}

// FindCampaigns lists campaigns in the given status. With scheduledBefore
// set, only campaigns whose scheduled time has elapsed are returned.
func (r *CampaignRepository) FindCampaigns(ctx context.Context, status model.CampaignStatus, scheduledBefore *time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status = $1 AND ($2::timestamptz IS NULL OR (scheduled_at IS NOT NULL AND scheduled_at <= $2))
        ORDER BY scheduled_at ASC NULLS LAST, id ASC`

	rows, err := r.DB.QueryContext(ctx, query, status, scheduledBefore)
	if err != nil {
		return nil, fmt.Errorf("find %s campaigns: %w", status, err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// TransitionStatus moves the campaign to `to` only if its current status is
// one of `from`. The check and the write are a single statement, so two
// callers racing on the same campaign cannot both succeed.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3 AND status = ANY($4)`
	res, err := r.DB.ExecContext(ctx, query, to, time.Now(), id, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("transition campaign %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) SetTotalMessages(ctx context.Context, id, total int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET total_messages=$1, updated_at=NOW() WHERE id=$2`, total, id)
	if err != nil {
		return fmt.Errorf("set total for campaign %d: %w", id, err)
	}
	return nil
}

func (r *CampaignRepository) IncrementCounters(ctx context.Context, id int, delivered, read, responses int) error {
	query := `
        UPDATE campaigns
        SET delivered_count = delivered_count + $1, read_count = read_count + $2, response_count = response_count + $3
        WHERE id = $4
    `
	if _, err := r.DB.ExecContext(ctx, query, delivered, read, responses, id); err != nil {
		return fmt.Errorf("increment counters for campaign %d: %w", id, err)
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
