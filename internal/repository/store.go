package repository

import "database/sql"

// Store bundles the repositories shared by the API, the dispatcher and the
// scheduler.
type Store struct {
	Campaigns   CampaignRepositoryInterface
	Recipients  RecipientRepositoryInterface
	Contacts    ContactRepositoryInterface
	Templates   TemplateRepositoryInterface
	MessageLogs MessageLogRepositoryInterface
}

func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Campaigns:   &CampaignRepository{DB: db},
		Recipients:  &RecipientRepository{DB: db},
		Contacts:    &ContactRepository{DB: db},
		Templates:   &TemplateRepository{DB: db},
		MessageLogs: &MessageLogRepository{DB: db},
	}
}
