package completion

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// instrumentedClient counts individual completion calls by outcome. It sits
// below the pipeline's retry loops, so every retried call counts once and a
// fan-out counts each of its calls.
type instrumentedClient struct {
	inner Client
	calls *prometheus.CounterVec
}

// Instrument wraps client so each Complete call increments calls with an
// outcome label: success, backend_error, or error. A nil counter returns
// the client unwrapped.
func Instrument(client Client, calls *prometheus.CounterVec) Client {
	if calls == nil {
		return client
	}
	return &instrumentedClient{inner: client, calls: calls}
}

func (c *instrumentedClient) Complete(ctx context.Context, req Request) (string, error) {
	text, err := c.inner.Complete(ctx, req)
	switch {
	case err == nil:
		c.calls.WithLabelValues("success").Inc()
	case IsBackendError(err):
		c.calls.WithLabelValues("backend_error").Inc()
	default:
		c.calls.WithLabelValues("error").Inc()
	}
	return text, err
}
