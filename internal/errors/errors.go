package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports bad or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidStateError is returned when an operation is not allowed from the
// campaign's current status.
type InvalidStateError struct {
	CampaignID int
	Status     string
	Operation  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s campaign %d in status %s", e.Operation, e.CampaignID, e.Status)
}

func NewInvalidState(campaignID int, status, operation string) error {
	return &InvalidStateError{CampaignID: campaignID, Status: status, Operation: operation}
}

// NotFoundError covers unknown campaign, contact and template ids.
type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.Key)
}

func NewNotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// NewCampaignNotFound is kept as the common case.
func NewCampaignNotFound(id int) error {
	return NewNotFound("campaign", id)
}

// GatewayError wraps a failure from the messaging provider. It is scoped to
// a single recipient.
type GatewayError struct {
	To  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway send to %s: %v", e.To, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func NewGateway(to string, err error) error {
	return &GatewayError{To: to, Err: err}
}

// InfrastructureError wraps a store failure. It is fatal to a dispatch run.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func NewInfrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfrastructureError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsGateway(err error) bool {
	var target *GatewayError
	return errors.As(err, &target)
}

func IsInfrastructure(err error) bool {
	var target *InfrastructureError
	return errors.As(err, &target)
}

// HTTPStatus maps an error from the service layer to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidState(err):
		return http.StatusConflict
	case IsGateway(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
