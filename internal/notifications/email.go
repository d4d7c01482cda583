package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	"github.com/igdrones/ig-docs-backend/internal/auth"
)

// EmailSender is the subset of the SES v2 client used here.
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// UserLookup resolves recipients to addresses.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

// EmailChannel mails the event's recipients through SES.
type EmailChannel struct {
	client EmailSender
	users  UserLookup
	sender string
}

func NewEmailChannel(client EmailSender, users UserLookup, sender string) *EmailChannel {
	return &EmailChannel{client: client, users: users, sender: sender}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, ev Event) (string, error) {
	var to []string
	for _, id := range ev.Recipients {
		u, err := c.users.GetUser(ctx, id)
		if err != nil {
			return "", fmt.Errorf("lookup recipient %s: %w", id, err)
		}
		if u != nil && u.Email != "" {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return "", ErrNoRecipients
	}

	out, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.sender),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(ev.Subject())},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(emailBody(ev))},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	if out.MessageId == nil {
		return "", errors.New("ses returned no message id")
	}
	return *out.MessageId, nil
}

func emailBody(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", ev.DocumentName)
	fmt.Fprintf(&b, "Status: %s\n", ev.Status)
	if ev.Action != "" {
		fmt.Fprintf(&b, "Action: %s\n", ev.Action)
	}
	fmt.Fprintf(&b, "Stage: %d, version: %d\n", ev.CurrentStage, ev.CurrentVersion)
	fmt.Fprintf(&b, "At: %s\n", ev.OccurredAt.Format("2006-01-02 15:04 MST"))
	return b.String()
}
