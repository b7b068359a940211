package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
)

type CreateCampaignRequest struct {
	Name           string     `json:"name" validate:"required,max=200"`
	Description    string     `json:"description" validate:"max=2000"`
	TemplateID     string     `json:"template_id" validate:"required"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CreatedBy      string     `json:"created_by" validate:"max=200"`
	AudienceFilter string     `json:"audience_filter"`
	Variable1      string     `json:"variable1" validate:"max=1024"`
	Variable2      string     `json:"variable2" validate:"max=1024"`
	Variable3      string     `json:"variable3" validate:"max=1024"`
	ContactIDs     []int      `json:"contact_ids" validate:"omitempty,dive,gt=0"`
}

// UpdateCampaignRequest carries only the fields to change. A nil ContactIDs
// keeps the current audience; a non-nil one replaces it.
type UpdateCampaignRequest struct {
	Name           *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description    *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	TemplateID     *string    `json:"template_id,omitempty" validate:"omitempty,min=1"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	AudienceFilter *string    `json:"audience_filter,omitempty"`
	Variable1      *string    `json:"variable1,omitempty" validate:"omitempty,max=1024"`
	Variable2      *string    `json:"variable2,omitempty" validate:"omitempty,max=1024"`
	Variable3      *string    `json:"variable3,omitempty" validate:"omitempty,max=1024"`
	ContactIDs     *[]int     `json:"contact_ids,omitempty" validate:"omitempty,dive,gt=0"`
}

type CreateContactRequest struct {
	Phone      string   `json:"phone" validate:"required"`
	Name       string   `json:"name" validate:"max=200"`
	HasOptedIn bool     `json:"has_opted_in"`
	Tags       []string `json:"tags" validate:"omitempty,dive,max=50"`
}

type CreateTemplateRequest struct {
	ContentID  string `json:"content_id" validate:"required,startswith=HX"`
	Name       string `json:"name" validate:"required,max=200"`
	Language   string `json:"language" validate:"required,max=10"`
	Category   string `json:"category" validate:"omitempty,oneof=MARKETING UTILITY AUTHENTICATION"`
	Body       string `json:"body"`
	IsApproved bool   `json:"is_approved"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks req's validate tags and reports the first failing
// field as a ValidationError.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return appErrors.NewValidation(fe.Field(), "failed "+reason)
	}
	return appErrors.NewValidation("request", err.Error())
}
