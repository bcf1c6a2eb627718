package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Alert is published when a tenant's refresh token stops working. It
// means scheduled deliveries for that tenant will keep failing until
// someone re-runs the install flow.
type Alert struct {
	TenantID string    `json:"tenantId"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

type Publisher struct {
	SQS      *sqs.Client
	QueueURL string
}

func (p *Publisher) Publish(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}

func str(s string) *string { return &s }
