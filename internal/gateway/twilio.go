package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioClient sends WhatsApp content templates through Twilio's Messages
// API. Build it once at start-up and share it.
type TwilioClient struct {
	api messageCreator
}

func NewTwilioClient(accountSID, authToken string) *TwilioClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioClient{api: client.Api}
}

func (c *TwilioClient) SendTemplate(ctx context.Context, msg TemplateMessage) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.ContentSID == "" {
		return nil, appErrors.NewGateway(msg.To, errors.New("missing content sid"))
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(msg.From)
	params.SetContentSid(msg.ContentSID)
	if len(msg.Variables) > 0 {
		vars, err := json.Marshal(msg.Variables)
		if err != nil {
			return nil, appErrors.NewGateway(msg.To, fmt.Errorf("encode content variables: %w", err))
		}
		params.SetContentVariables(string(vars))
	}

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return nil, appErrors.NewGateway(msg.To, err)
	}
	if resp == nil || resp.Sid == nil {
		return nil, appErrors.NewGateway(msg.To, errors.New("provider returned no message sid"))
	}

	result := &SendResult{MessageID: *resp.Sid}
	if resp.Status != nil {
		result.Status = fmt.Sprint(*resp.Status)
	}
	return result, nil
}

var _ Client = (*TwilioClient)(nil)
