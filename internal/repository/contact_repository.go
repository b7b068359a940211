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

// ContactRepositoryInterface defines methods used by the services
type ContactRepositoryInterface interface {
	Create(ctx context.Context, c *model.Contact) error
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	GetByIDs(ctx context.Context, ids []int) ([]*model.Contact, error)
	GetByPhone(ctx context.Context, phone string) (*model.Contact, error)
	List(ctx context.Context, offset, limit int) ([]*model.Contact, int, error)
	SetOptIn(ctx context.Context, id int, optedIn bool) error
	TouchLastContact(ctx context.Context, id int, at time.Time) error
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, phone, name, has_opted_in, opt_in_date, tags, last_contact_at, created_at`

func scanContact(row rowScanner) (*model.Contact, error) {
	var c model.Contact
	if err := row.Scan(&c.ID, &c.Phone, &c.Name, &c.HasOptedIn, &c.OptInDate, &c.Tags, &c.LastContactAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a contact. A duplicate phone number is a validation error.
func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) error {
	c.CreatedAt = time.Now()
	query := `
        INSERT INTO contacts (phone, name, has_opted_in, opt_in_date, tags, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, c.Phone, c.Name, c.HasOptedIn, c.OptInDate, c.Tags, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return appErrors.NewValidation("phone", "a contact with this phone number already exists")
		}
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	c, err := scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("contact", id)
		}
		return nil, fmt.Errorf("get contact %d: %w", id, err)
	}
	return c, nil
}

// GetByIDs returns the contacts that exist among ids; unknown ids are ignored.
func (r *ContactRepository) GetByIDs(ctx context.Context, ids []int) ([]*model.Contact, error) {
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ANY($1) ORDER BY id`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetByPhone returns nil, nil when no contact has the number.
func (r *ContactRepository) GetByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	c, err := scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact by phone: %w", err)
	}
	return c, nil
}

func (r *ContactRepository) List(ctx context.Context, offset, limit int) ([]*model.Contact, int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}
	return contacts, total, nil
}

func (r *ContactRepository) SetOptIn(ctx context.Context, id int, optedIn bool) error {
	query := `
        UPDATE contacts
        SET has_opted_in=$1, opt_in_date = CASE WHEN $1 THEN NOW() ELSE opt_in_date END
        WHERE id=$2
    `
	res, err := r.DB.ExecContext(ctx, query, optedIn, id)
	if err != nil {
		return fmt.Errorf("set opt-in for contact %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewNotFound("contact", id)
	}
	return nil
}

func (r *ContactRepository) TouchLastContact(ctx context.Context, id int, at time.Time) error {
	if _, err := r.DB.ExecContext(ctx, `UPDATE contacts SET last_contact_at=$1 WHERE id=$2`, at, id); err != nil {
		return fmt.Errorf("touch contact %d: %w", id, err)
	}
	return nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
