package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/batch"
	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ intelligence.Recorder = (*ClassifierMetrics)(nil)
	_ batch.Recorder        = (*ClassifierMetrics)(nil)
)

func TestClassifierMetrics(t *testing.T) {
	m := New()

	m.ObserveClassification(intelligence.DocumentTypeInvoice, intelligence.PathWeighted, 20*time.Millisecond)
	m.ObserveClassification(intelligence.DocumentTypeInvoice, intelligence.PathWeighted, 30*time.Millisecond)
	m.ObserveClassification(intelligence.DocumentTypeGrainSettlement, intelligence.PathOverride, time.Millisecond)
	m.ObserveMethodError(intelligence.MethodLayout)
	m.ObserveDocument("classified")
	m.ObserveDocument("timeout")
	m.ObserveToolCall("classify_text", nil)
	m.ObserveToolCall("classify_text", errors.New("bad input"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.classificationsTotal.WithLabelValues("facturas", intelligence.PathWeighted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classificationsTotal.WithLabelValues("liquidaciones_granos", intelligence.PathOverride)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.methodErrorsTotal.WithLabelValues("layout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchDocumentsTotal.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("classify_text", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.classifyDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDocument("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pdf_classifier_batch_documents_total{status="failed"} 1`), body)
}
