package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// probe hits a handler func and decodes the JSON body.
func probe(t *testing.T, fn http.HandlerFunc, path string) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest("GET", path, nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec.Code, body
}

func ok(_ context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()
	// Even a handler whose every checker fails reports itself alive.
	h := New(Checker{Name: "database", Check: failWith("down")})

	code, body := probe(t, h.Healthz, "/healthz")
	if code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("healthz body status = %q, want ok", body.Status)
	}
}

func TestHealthzContentType(t *testing.T) {
	t.Parallel()
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "database", Check: ok},
				{Name: "telephony", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"database": "ok", "telephony": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "database", Check: failWith("connection refused")},
				{Name: "telephony", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"database":  "fail: connection refused",
				"telephony": "ok",
			},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "database", Check: failWith("timeout")},
				{Name: "telephony", Check: failWith("no account configured")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"database":  "fail: timeout",
				"telephony": "fail: no account configured",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := probe(t, New(tc.checkers...).Readyz, "/readyz")
			if code != tc.wantCode {
				t.Errorf("readyz status = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "database", Check: ok})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestReadyzDraining(t *testing.T) {
	t.Parallel()
	checked := false
	h := New(Checker{Name: "database", Check: func(_ context.Context) error {
		checked = true
		return nil
	}})
	h.SetDraining(true)

	code, body := probe(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("draining readyz = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "draining" {
		t.Errorf("draining body status = %q, want draining", body.Status)
	}
	if checked {
		t.Error("checkers ran while draining")
	}

	// Liveness is unaffected; a draining process is still alive.
	if code, _ := probe(t, h.Healthz, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want %d", code, http.StatusOK)
	}

	// And readiness comes back when draining is lifted.
	h.SetDraining(false)
	if code, _ := probe(t, h.Readyz, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz after drain lifted = %d, want %d", code, http.StatusOK)
	}
}

type fakePool struct {
	err error
}

func (f *fakePool) Ping(_ context.Context) error { return f.err }

func TestDatabaseChecker(t *testing.T) {
	t.Parallel()
	c := Database(&fakePool{})
	if c.Name != "database" {
		t.Errorf("Name = %q, want database", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}

	broken := Database(&fakePool{err: errors.New("pool closed")})
	if err := broken.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want the pool's error")
	}
}

func TestReadyzRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with dead context = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
