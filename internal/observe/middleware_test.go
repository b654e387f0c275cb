package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testMux mimics the server's routes behind the middleware.
func testMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := useTestTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /projects/{id}/ops", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /projects/{id}/save", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SpanPerRoute(t *testing.T) {
	h, _, exp := testMux(t)

	tests := []struct {
		method, path string
		wantSpan     string
		wantRoute    string
		wantStatus   int
		wantError    bool
	}{
		{http.MethodGet, "/projects/abc", "GET /projects/{id}", "/projects/{id}", 200, false},
		{http.MethodPost, "/projects/abc/ops", "POST /projects/{id}/ops", "/projects/{id}/ops", 422, false},
		{http.MethodPost, "/projects/abc/save", "POST /projects/{id}/save", "/projects/{id}/save", 500, true},
		{http.MethodGet, "/nowhere", "GET /nowhere", "/nowhere", 404, false},
	}
	for _, tt := range tests {
		exp.Reset()
		rec := serve(h, tt.method, tt.path, nil)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
		}

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s %s: %d spans", tt.method, tt.path, len(spans))
		}
		s := spans[0]
		if s.Name != tt.wantSpan {
			t.Errorf("span name = %q, want %q", s.Name, tt.wantSpan)
		}
		attrs := map[string]attribute.Value{}
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value
		}
		if got := attrs["http.route"].AsString(); got != tt.wantRoute {
			t.Errorf("%s: http.route = %q, want %q", tt.path, got, tt.wantRoute)
		}
		if got := attrs["http.response.status_code"].AsInt64(); got != int64(tt.wantStatus) {
			t.Errorf("%s: status attribute = %d", tt.path, got)
		}
		if got := s.Status.Code == codes.Error; got != tt.wantError {
			t.Errorf("%s: span error = %v, want %v", tt.path, got, tt.wantError)
		}
	}
}

func TestMiddleware_RecordsRouteNotPath(t *testing.T) {
	h, reader, _ := testMux(t)

	serve(h, http.MethodGet, "/projects/one", nil)
	serve(h, http.MethodGet, "/projects/two", nil)
	serve(h, http.MethodPost, "/projects/one/ops", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wordcut.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		r, _ := dp.Attributes.Value("route")
		s, _ := dp.Attributes.Value("status")
		counts[r.AsString()+" "+s.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /projects/{id} 2xx":      2,
		"POST /projects/{id}/ops 4xx": 1,
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s count = %d, want %d", k, counts[k], n)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := testMux(t)

	rec := serve(h, http.MethodGet, "/projects/abc", nil)
	if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
		t.Errorf("generated X-Correlation-ID = %q", cid)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("trace context not injected into the response")
	}

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec = serve(h, http.MethodGet, "/projects/abc", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("propagated X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	h, _, _ := testMux(t)

	tests := []struct {
		method, path string
		want         string
	}{
		{http.MethodGet, "/projects/abc", "level=INFO"},
		{http.MethodGet, "/healthz", "level=DEBUG"},
		{http.MethodPost, "/projects/abc/save", "level=WARN"},
	}
	for _, tt := range tests {
		buf := captureLogs(t)
		serve(h, tt.method, tt.path, nil)
		out := buf.String()
		if !strings.Contains(out, "request completed") || !strings.Contains(out, tt.want) {
			t.Errorf("%s %s: log = %q, want %s", tt.method, tt.path, out, tt.want)
		}
	}
}

func TestStatusRecorder_Hijack(t *testing.T) {
	// httptest.ResponseRecorder cannot be hijacked.
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Hijack on a non-hijackable writer succeeded")
	}
	if rec.statusCode != http.StatusOK {
		t.Errorf("status after failed hijack = %d", rec.statusCode)
	}
}
