package dispatcher

import (
	"context"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

// Ledger records per-recipient outcomes. A recipient leaves pending at most
// once; every write goes through a single conditional transition so the
// campaign counters and the message log move together with it.
type Ledger struct {
	recipients repository.RecipientRepositoryInterface
	now        func() time.Time
}

func NewLedger(recipients repository.RecipientRepositoryInterface) *Ledger {
	return &Ledger{recipients: recipients, now: time.Now}
}

// MarkSent records a successful send together with its outbound log entry.
func (l *Ledger) MarkSent(ctx context.Context, rec *model.CampaignRecipient, providerMessageID string, entry *model.MessageLog) (bool, error) {
	return l.resolve(ctx, rec, model.RecipientTransition{
		To:                model.RecipientSent,
		ProviderMessageID: providerMessageID,
		Log:               entry,
	})
}

func (l *Ledger) MarkFailed(ctx context.Context, rec *model.CampaignRecipient, reason string) (bool, error) {
	return l.resolve(ctx, rec, model.RecipientTransition{To: model.RecipientFailed, LastError: reason})
}

func (l *Ledger) MarkSkipped(ctx context.Context, rec *model.CampaignRecipient, reason string) (bool, error) {
	return l.resolve(ctx, rec, model.RecipientTransition{To: model.RecipientSkipped, LastError: reason})
}

// Pending returns how many recipients of the campaign still await a send.
func (l *Ledger) Pending(ctx context.Context, campaignID int) (int, error) {
	counts, err := l.recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		return 0, appErrors.NewInfrastructure("count recipients", err)
	}
	return counts[model.RecipientPending], nil
}

func (l *Ledger) resolve(ctx context.Context, rec *model.CampaignRecipient, t model.RecipientTransition) (bool, error) {
	t.RecipientID = rec.ID
	t.CampaignID = rec.CampaignID
	t.At = l.now().UTC()

	applied, err := l.recipients.Transition(ctx, t)
	if err != nil {
		return false, appErrors.NewInfrastructure(fmt.Sprintf("record recipient %d as %s", rec.ID, t.To), err)
	}
	if applied {
		rec.Status = t.To
		rec.ProviderMessageID = t.ProviderMessageID
		rec.LastError = t.LastError
		rec.StatusUpdatedAt = &t.At
		if t.To == model.RecipientSent {
			rec.SentAt = &t.At
		}
	}
	return applied, nil
}
