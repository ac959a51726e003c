package prompt

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/katosuite/usagekit/pkg/entitlement"
)

// WebhookConfig holds webhook dispatcher settings.
type WebhookConfig struct {
	URL           string        `env:"UPGRADE_PROMPT_WEBHOOK_URL,required"`            // URL receives the prompt as a JSON POST.
	SigningSecret string        `env:"UPGRADE_PROMPT_WEBHOOK_SECRET,required"`         // SigningSecret signs each payload (HMAC-SHA256).
	Timeout       time.Duration `env:"UPGRADE_PROMPT_WEBHOOK_TIMEOUT" envDefault:"5s"` // Timeout bounds each delivery attempt.
}

// WebhookDispatcher posts upgrade prompts as signed JSON to a notification
// endpoint, typically the app backend that renders the in-app upgrade modal.
// Delivery is fire-and-forget: failures are logged, never propagated.
type WebhookDispatcher struct {
	url    string
	secret string
	client *http.Client
	log    *slog.Logger
}

var _ entitlement.PromptDispatcher = (*WebhookDispatcher)(nil)

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(cfg WebhookConfig, log *slog.Logger) (*WebhookDispatcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrInvalidConfiguration)
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("%w: SigningSecret is required", ErrInvalidConfiguration)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &WebhookDispatcher{
		url:    cfg.URL,
		secret: cfg.SigningSecret,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

func (d *WebhookDispatcher) DispatchUpgradePrompt(ctx context.Context, p entitlement.UpgradePrompt) {
	if err := d.deliver(ctx, p); err != nil {
		d.log.ErrorContext(ctx, "failed to deliver upgrade prompt", "url", d.url, "error", err)
	}
}

func (d *WebhookDispatcher) deliver(ctx context.Context, p entitlement.UpgradePrompt) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Join(ErrFailedToDeliver, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Join(ErrFailedToDeliver, err)
	}

	// Timestamp-bound HMAC signature so receivers can reject spoofed or
	// replayed prompts.
	timestamp := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", d.sign(timestamp, payload))
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-Webhook-ID", uuid.NewString())

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Join(ErrFailedToDeliver, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: endpoint returned status %d", ErrFailedToDeliver, resp.StatusCode)
	}
	return nil
}

func (d *WebhookDispatcher) sign(timestamp int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(d.secret))
	fmt.Fprintf(h, "%d.%s", timestamp, payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature validates a received prompt payload against its signature
// headers. maxAge bounds the replay window; pass 0 to skip the age check.
func VerifySignature(secret string, payload []byte, signature string, timestamp int64, maxAge time.Duration) error {
	if maxAge > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: signature too old", ErrInvalidConfiguration)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: signature timestamp in the future", ErrInvalidConfiguration)
		}
	}

	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", timestamp, payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidConfiguration)
	}
	return nil
}
