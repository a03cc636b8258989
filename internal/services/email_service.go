package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	pkglogger "github.com/BradenHooton/authcore/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Mailer delivers the single-use tokens of the verification and reset flows.
// Message content is the transport's concern; only token and expiry are fixed.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// SESAPI is the subset of the SES client used by SESMailer
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends emails using AWS SES
type SESMailer struct {
	client      SESAPI
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewSESMailer creates a mailer from the default AWS credential chain
func NewSESMailer(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, baseURL, logger), nil
}

// NewSESMailerWithClient creates a mailer around an existing SES client
func NewSESMailerWithClient(client SESAPI, fromAddress, baseURL string, logger *slog.Logger) *SESMailer {
	return &SESMailer{
		client:      client,
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}
}

const verificationTextTemplate = `Verify your email address

Open the link below to finish setting up your account:

%s

The link expires at %s. If you did not create this account you can ignore this email.
`

const resetTextTemplate = `Reset your password

Someone asked to reset the password for this account. Open the link below to choose a new one:

%s

The link expires at %s. If you did not ask for this, ignore this email; your password stays unchanged.
`

func (m *SESMailer) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := m.link("/verify-email", token)
	body := fmt.Sprintf(verificationTextTemplate, link, expiresAt.UTC().Format(time.RFC1123))
	return m.send(ctx, email, "Verify your email address", body)
}

func (m *SESMailer) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := m.link("/reset-password", token)
	body := fmt.Sprintf(resetTextTemplate, link, expiresAt.UTC().Format(time.RFC1123))
	return m.send(ctx, email, "Reset your password", body)
}

func (m *SESMailer) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}

func (m *SESMailer) send(ctx context.Context, email, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send email via SES",
			pkglogger.EmailAttr(email),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		pkglogger.EmailAttr(email),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogMailer writes messages to the log instead of sending them. Development only.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "verification email (not sent)",
		pkglogger.EmailAttr(email),
		slog.String("token", token),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "password reset email (not sent)",
		pkglogger.EmailAttr(email),
		slog.String("token", token),
		slog.Time("expires_at", expiresAt))
	return nil
}
