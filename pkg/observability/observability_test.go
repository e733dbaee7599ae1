package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	ctx := context.Background()
	var spans bytes.Buffer

	tel, err := Setup(ctx, Config{ServiceName: "test", TraceWriter: &spans})
	require.NoError(t, err)

	counter, err := tel.MeterProvider.Meter("test").Int64Counter("chat_probe")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	_, span := tel.TracerProvider.Tracer("test").Start(ctx, "probe")
	span.End()

	w := httptest.NewRecorder()
	tel.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_probe")

	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, spans.String(), `"Name":"probe"`)
}
