package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/carelink/backend/internal/config"
	"github.com/carelink/backend/pkg/logger"
)

// Mailer delivers invitation emails through Amazon SES. When no sender
// address is configured it runs disabled and every send becomes a logged
// no-op, which keeps local development free of AWS credentials.
type Mailer struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	appURL    string
	enabled   bool
}

func NewMailer(cfg config.SESConfig) (*Mailer, error) {
	if cfg.FromEmail == "" {
		logger.Info("mailer_disabled", map[string]interface{}{
			"reason": "SES_FROM_EMAIL not configured",
		})
		return &Mailer{enabled: false}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	logger.Info("mailer_enabled", map[string]interface{}{
		"from":   cfg.FromEmail,
		"region": cfg.Region,
	})

	return &Mailer{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		appURL:    cfg.AppBaseURL,
		enabled:   true,
	}, nil
}

func (m *Mailer) IsEnabled() bool {
	return m.enabled
}

// SendInviteEmail notifies an invitee about a pending invitation. Callers
// treat delivery as fire-and-forget; a failure here must never roll back the
// invite that triggered it.
func (m *Mailer) SendInviteEmail(ctx context.Context, toEmail, inviterName, childName, code string) error {
	if !m.enabled {
		logger.Info("invite_email_skipped", map[string]interface{}{
			"to": toEmail,
		})
		return nil
	}

	acceptLink := fmt.Sprintf("%s/invites/accept?code=%s", m.appURL, code)
	subject := fmt.Sprintf("%s invited you to help care for %s", inviterName, childName)
	textBody := fmt.Sprintf(
		"%s has invited you to join %s's care circle.\n\n"+
			"Open %s or enter the code %s in the app to accept.\n\n"+
			"The invitation expires in 7 days. If you weren't expecting this email you can ignore it.",
		inviterName, childName, acceptLink, code,
	)

	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(textBody)},
				},
			},
		},
	})
	return err
}
