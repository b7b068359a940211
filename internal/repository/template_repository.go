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

type TemplateRepositoryInterface interface {
	Create(ctx context.Context, t *model.WhatsAppTemplate) error
	GetByContentID(ctx context.Context, contentID string) (*model.WhatsAppTemplate, error)
	List(ctx context.Context) ([]*model.WhatsAppTemplate, error)
	SetApproval(ctx context.Context, contentID string, approved bool) error
}

type TemplateRepository struct {
	DB *sql.DB
}

const templateColumns = `id, content_id, name, language, category, body, is_approved, created_at`

func scanTemplate(row rowScanner) (*model.WhatsAppTemplate, error) {
	var t model.WhatsAppTemplate
	if err := row.Scan(&t.ID, &t.ContentID, &t.Name, &t.Language, &t.Category, &t.Body, &t.IsApproved, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.WhatsAppTemplate) error {
	t.CreatedAt = time.Now()
	query := `
        INSERT INTO whatsapp_templates (content_id, name, language, category, body, is_approved, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, t.ContentID, t.Name, t.Language, t.Category, t.Body, t.IsApproved, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return appErrors.NewValidation("content_id", "template already registered")
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) GetByContentID(ctx context.Context, contentID string) (*model.WhatsAppTemplate, error) {
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM whatsapp_templates WHERE content_id=$1`, contentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("template", contentID)
		}
		return nil, fmt.Errorf("get template %s: %w", contentID, err)
	}
	return t, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]*model.WhatsAppTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM whatsapp_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []*model.WhatsAppTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *TemplateRepository) SetApproval(ctx context.Context, contentID string, approved bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE whatsapp_templates SET is_approved=$1 WHERE content_id=$2`, approved, contentID)
	if err != nil {
		return fmt.Errorf("set approval for template %s: %w", contentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewNotFound("template", contentID)
	}
	return nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
