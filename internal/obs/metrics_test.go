package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/patients/01ABC":                "/v1/patients/:id",
		"/v1/patients/01ABC/federate":       "/v1/patients/:id/federate",
		"/v1/patients/search":               "/v1/patients/search",
		"/v1/patients/external":             "/v1/patients/external",
		"/v1/patients":                      "/v1/patients",
		"/v1/patients/01ABC?fields=limited": "/v1/patients/:id",
		"/v1/realtime/stream":               "/v1/realtime/stream",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("instrumented writer does not expose http.Flusher")
		}
		f.Flush()
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	if !rec.Flushed {
		t.Fatal("flush was not forwarded to the underlying writer")
	}
}
