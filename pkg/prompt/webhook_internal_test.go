package prompt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katosuite/usagekit/pkg/entitlement"
)

func TestWebhookDeliver(t *testing.T) {
	t.Parallel()

	t.Run("rejected status reported as delivery failure", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		d, err := NewWebhookDispatcher(WebhookConfig{URL: srv.URL, SigningSecret: "secret"}, nil)
		require.NoError(t, err)

		err = d.deliver(context.Background(), entitlement.UpgradePrompt{Title: "t"})
		assert.ErrorIs(t, err, ErrFailedToDeliver)
	})

	t.Run("unreachable endpoint reported as delivery failure", func(t *testing.T) {
		t.Parallel()

		d, err := NewWebhookDispatcher(WebhookConfig{
			URL:           "http://127.0.0.1:1/hooks",
			SigningSecret: "secret",
		}, nil)
		require.NoError(t, err)

		err = d.deliver(context.Background(), entitlement.UpgradePrompt{Title: "t"})
		assert.ErrorIs(t, err, ErrFailedToDeliver)
	})
}
