// Package email abstracts the outbound email transport behind a narrow Sender
// interface so the delivery worker can be exercised without network access.
// The production implementation sends through Amazon SES.
package email

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// Sender delivers one newsletter email. Implementations must be safe for
// concurrent use and honor the context for cancellation.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SESSender sends through the Amazon SES v2 API.
type SESSender struct {
	client *sesv2.Client
	from   string
}

// NewSESSender builds an SES-backed Sender using the provided AWS config and
// verified from-address.
func NewSESSender(cfg aws.Config, from string) (*SESSender, error) {
	if from == "" {
		return nil, errors.New("email: from address is required")
	}
	return &SESSender{
		client: sesv2.NewFromConfig(cfg),
		from:   from,
	}, nil
}

// Send delivers a single email with both HTML and plain-text bodies.
func (s *SESSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody)},
					Text: &types.Content{Data: aws.String(textBody)},
				},
			},
		},
	})
	return err
}
