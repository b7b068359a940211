package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const TopicCampaignRuns = "campaign_runs"

// Run triggers.
const (
	TriggerLaunch   = "launch"
	TriggerSchedule = "schedule"
	TriggerResume   = "resume"
)

// CampaignRunRequest asks a worker to run the dispatcher for one campaign.
type CampaignRunRequest struct {
	CampaignID  int       `json:"campaign_id"`
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}

func PublishCampaignRun(ctx context.Context, q Queue, req CampaignRunRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode run request: %w", err)
	}
	return q.Publish(ctx, TopicCampaignRuns, body)
}

func DecodeCampaignRun(payload []byte) (CampaignRunRequest, error) {
	var req CampaignRunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode run request: %w", err)
	}
	if req.CampaignID <= 0 {
		return req, fmt.Errorf("decode run request: missing campaign_id")
	}
	return req, nil
}
