package processorsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubPublisherRetriesFailedInit(t *testing.T) {
	t.Setenv("PUBSUB_EMULATOR_HOST", "127.0.0.1:1")
	ctx := context.Background()

	var calls int
	p := &PubSubPublisher{Topic: "runs"}
	p.newClient = func(ctx context.Context, maxAttempts int) (*pubsub.Client, error) {
		calls++
		assert.Equal(t, defaultInitAttempts, maxAttempts)
		if calls == 1 {
			return nil, errors.New("credentials unavailable")
		}
		c, err := pubsub.NewClient(ctx, "test-project")
		if err == nil {
			t.Cleanup(func() { _ = c.Close() })
		}
		return c, err
	}

	_, err := p.resolveTopic(ctx)
	require.Error(t, err)

	topic, err := p.resolveTopic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "runs", topic.ID())

	again, err := p.resolveTopic(ctx)
	require.NoError(t, err)
	assert.Same(t, topic, again)
	assert.Equal(t, 2, calls)
}

func TestSyncReturnsWhenPubSubInitFails(t *testing.T) {
	t.Setenv("PUBSUB_PROJECT_ID", "test-project")
	t.Setenv("PUBSUB_CREDENTIALS_JSON", `{"type":"nonsense"}`)

	env := newTestEnv(t, processorEvent(t, "evt_1", 100, "usd", ""))
	env.service.Reconciler.Publisher = NewPubSubPublisher(config.Settings{})
	env.service.Reconciler.PublishTimeout = 200 * time.Millisecond

	body := []byte(fmt.Sprintf(`{"processor_account_id": %d}`, env.account.ID))
	for i := 0; i < 2; i++ {
		started := time.Now()
		w := env.do(t, http.MethodPost, "/api/reconciliation/sync", body, nil)
		require.Equal(t, http.StatusOK, w.Code, "attempt %d: %s", i+1, w.Body.String())
		assert.Less(t, time.Since(started), 5*time.Second)
	}
}
