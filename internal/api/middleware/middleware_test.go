package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/tower-controller/internal/api/errors"
	"github.com/narvanalabs/tower-controller/internal/auth"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoOperator() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, GetOperator(r.Context()))
	})
}

func TestRequireOperator(t *testing.T) {
	svc := auth.NewService(&auth.Config{JWTSecret: secret, TokenExpiry: time.Hour}, nil)
	token, err := svc.GenerateToken("night-shift")
	if err != nil {
		t.Fatal(err)
	}
	h := chimiddleware.RequestID(RequireOperator(svc, quiet())(echoOperator()))

	cases := []struct {
		name   string
		method string
		header string
		want   int
		body   string
	}{
		{"get passes without token", http.MethodGet, "", http.StatusOK, ""},
		{"post without token", http.MethodPost, "", http.StatusUnauthorized, ""},
		{"post with garbage", http.MethodPost, "Bearer nope", http.StatusUnauthorized, ""},
		{"post with token", http.MethodPost, "Bearer " + token, http.StatusOK, "night-shift"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/pump", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized {
				var e apierrors.APIError
				if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if e.Code != apierrors.CodeUnauthorized || e.RequestID == "" {
					t.Fatalf("unexpected error body %+v", e)
				}
				return
			}
			if rec.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
}

func TestRequireOperatorDisabled(t *testing.T) {
	h := RequireOperator(nil, quiet())(echoOperator())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mode", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRecoveryWritesStructuredError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := chimiddleware.RequestID(Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("relay exploded")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var e apierrors.APIError
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Code != apierrors.CodeInternalError || e.RequestID == "" {
		t.Fatalf("unexpected body %+v", e)
	}
	if !strings.Contains(logs.String(), "relay exploded") {
		t.Fatal("panic not logged")
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if logs.Len() != 0 {
		t.Fatalf("metrics scrape logged at info: %s", logs.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/towers", nil))
	if !strings.Contains(logs.String(), `"status":418`) {
		t.Fatalf("request not logged: %s", logs.String())
	}
}
