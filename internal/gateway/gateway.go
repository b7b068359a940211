package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

// TemplateMessage is one outbound WhatsApp template send. From and To are
// already in the provider's channel address form.
type TemplateMessage struct {
	From       string
	To         string
	ContentSID string
	Variables  map[string]string
}

type SendResult struct {
	MessageID string
	Status    string
}

// Client delivers template messages through the messaging provider.
type Client interface {
	SendTemplate(ctx context.Context, msg TemplateMessage) (*SendResult, error)
}

// LogClient pretends to send and only logs. Used with TWILIO_DRY_RUN.
type LogClient struct {
	Logger logger.Logger
	seq    atomic.Int64
}

func (c *LogClient) SendTemplate(ctx context.Context, msg TemplateMessage) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("DRY%010d", c.seq.Add(1))
	c.Logger.Info("dry-run template send", "to", msg.To, "content_sid", msg.ContentSID, "message_id", id)
	return &SendResult{MessageID: id, Status: "queued"}, nil
}

var _ Client = (*LogClient)(nil)
