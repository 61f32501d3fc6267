package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beego/beego/v2/server/web/context"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aihub/docqa-go/internal/metrics"
)

func newContext(method, path string) *context.Context {
	ctx := context.NewContext()
	ctx.Reset(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
	return ctx
}

func TestAccessLog_RecordsRoutePattern(t *testing.T) {
	ctx := newContext(http.MethodGet, "/api/v1/documents/7/sessions")
	ctx.Input.SetData("RouterPattern", "/api/v1/documents/:id/sessions")

	before := testutil.CollectAndCount(metrics.HTTPRequests)

	AccessLogStart(ctx)
	ctx.ResponseWriter.WriteHeader(http.StatusOK)
	AccessLogFinish(ctx)

	// 同一路由模式的第二个请求不产生新的序列
	second := newContext(http.MethodGet, "/api/v1/documents/8/sessions")
	second.Input.SetData("RouterPattern", "/api/v1/documents/:id/sessions")
	AccessLogStart(second)
	second.ResponseWriter.WriteHeader(http.StatusOK)
	AccessLogFinish(second)

	assert.Equal(t, before+1, testutil.CollectAndCount(metrics.HTTPRequests))
}

func TestAccessLog_WithoutStartIsIgnored(t *testing.T) {
	ctx := newContext(http.MethodPost, "/api/v1/qa/run")
	assert.NotPanics(t, func() { AccessLogFinish(ctx) })
}
