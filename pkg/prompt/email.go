package prompt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"

	"github.com/katosuite/usagekit/pkg/entitlement"
)

// EmailConfig holds email dispatcher settings.
type EmailConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,required"`
	SenderEmail          string `env:"UPGRADE_PROMPT_SENDER_EMAIL,required"` // SenderEmail is the verified from-address.
}

// postmarkSender is the subset of the Postmark client used by the dispatcher,
// extracted so tests can stub delivery.
type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailDispatcher notifies the account owner by email when a limit is hit.
// It complements, rather than replaces, the in-app modal: the email carries
// the same message and suggested tier. Fire-and-forget like all dispatchers.
type EmailDispatcher struct {
	client    postmarkSender
	sender    string
	recipient string
	log       *slog.Logger
}

var _ entitlement.PromptDispatcher = (*EmailDispatcher)(nil)

// NewEmailDispatcher creates a Postmark-backed dispatcher that emails the
// given recipient.
func NewEmailDispatcher(cfg EmailConfig, recipient string, log *slog.Logger) (*EmailDispatcher, error) {
	if cfg.PostmarkServerToken == "" || cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: postmark tokens are required", ErrInvalidConfiguration)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfiguration)
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidConfiguration)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &EmailDispatcher{
		client:    postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		sender:    cfg.SenderEmail,
		recipient: recipient,
		log:       log,
	}, nil
}

func (d *EmailDispatcher) DispatchUpgradePrompt(ctx context.Context, p entitlement.UpgradePrompt) {
	body := p.Message
	if p.CurrentUsage != nil && p.Limit != nil {
		body = fmt.Sprintf("%s\n\nCurrent usage: %d of %d.", body, *p.CurrentUsage, *p.Limit)
	}
	if p.SuggestedPlan != "" {
		body = fmt.Sprintf("%s\nSuggested plan: %s.", body, p.SuggestedPlan)
	}

	resp, err := d.client.SendEmail(ctx, postmark.Email{
		From:     d.sender,
		To:       d.recipient,
		Subject:  p.Title,
		TextBody: body,
		Tag:      "upgrade-prompt",
	})
	if err != nil {
		d.log.ErrorContext(ctx, "failed to send upgrade prompt email", "to", d.recipient, "error", err)
		return
	}
	if resp.ErrorCode > 0 {
		d.log.ErrorContext(ctx, "postmark rejected upgrade prompt email",
			"to", d.recipient, "code", resp.ErrorCode, "message", resp.Message)
	}
}
