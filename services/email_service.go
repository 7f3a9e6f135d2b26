package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Mailer defines the interface for outbound member email
type Mailer interface {
	SendOTPEmail(ctx context.Context, email, name, otp string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, name, token string, expiresAt time.Time) error
}

// AWSSESMailer sends emails using AWS SES
type AWSSESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESMailer creates a new AWS SES mailer
func NewAWSSESMailer(region, fromAddress, baseURL string, log *slog.Logger) (*AWSSESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      log,
	}, nil
}

// SendOTPEmail delivers a login verification code
func (s *AWSSESMailer) SendOTPEmail(ctx context.Context, email, name, otp string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .code { font-size: 32px; letter-spacing: 8px; text-align: center; padding: 20px; font-family: monospace; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Your Login Verification Code</h1>
        </div>
        <p>Hello %s,</p>
        <p>Use the code below to finish signing in:</p>
        <div class="code">%s</div>
        <div class="warning">
            <strong>Security Notice:</strong> This code expires in %d minutes and can be used once.
        </div>
        <p><strong>Didn't try to sign in?</strong><br>
        Someone may know your password. Change it immediately.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, name, otp, minutes)

	textBody := fmt.Sprintf(`Your Login Verification Code

Hello %s,

Use the code below to finish signing in:

    %s

Security Notice: This code expires in %d minutes and can be used once.

Didn't try to sign in? Someone may know your password. Change it immediately.

This is an automated message. Please do not reply to this email.
`, name, otp, minutes)

	return s.send(ctx, email, "Your login verification code", htmlBody, textBody)
}

// SendPasswordResetEmail delivers a password reset link
func (s *AWSSESMailer) SendPasswordResetEmail(ctx context.Context, email, name, token string, expiresAt time.Time) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	minutes := int(time.Until(expiresAt).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Reset Your Password</h1>
        </div>
        <p>Hello %s,</p>
        <p>We received a request to reset your password. Click the link below to choose a new one:</p>
        <p><a href="%s" class="button">Reset Password</a></p>
        <p>Or copy and paste this link in your browser:<br>
        <code>%s</code></p>
        <div class="warning">
            <strong>Security Notice:</strong> This link will expire in %d minutes.
        </div>
        <p><strong>Didn't request this?</strong><br>
        You can ignore this email. Your password will not change.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, name, resetLink, resetLink, minutes)

	textBody := fmt.Sprintf(`Reset Your Password

Hello %s,

We received a request to reset your password. Open the link below to choose a new one:

%s

Security Notice: This link will expire in %d minutes.

Didn't request this? You can ignore this email. Your password will not change.

This is an automated message. Please do not reply to this email.
`, name, resetLink, minutes)

	return s.send(ctx, email, "Reset your password", htmlBody, textBody)
}

func (s *AWSSESMailer) send(ctx context.Context, email, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}
