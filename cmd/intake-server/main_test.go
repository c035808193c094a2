package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/jbp/intake/internal/config"
	"github.com/jbp/intake/internal/domain/registration"
	"github.com/jbp/intake/internal/platform/auth"
	"github.com/jbp/intake/internal/platform/blobstore"
	"github.com/jbp/intake/internal/platform/db"
	"github.com/jbp/intake/internal/platform/events"
	"github.com/jbp/intake/internal/platform/ocr"
)

// downStore answers like a database that cannot be reached.
type downStore struct{}

func (downStore) RunInTx(context.Context, func(ctx context.Context) error) error {
	return db.Classify(&pgconn.PgError{Code: "08006"})
}
func (downStore) NextSequence(context.Context, registration.Period) (int, error) {
	return 0, nil
}
func (downStore) InsertPatient(context.Context, registration.PatientRow) error {
	return nil
}
func (downStore) GetPatient(context.Context, registration.PatientIdentifier) (*registration.PatientRow, error) {
	return nil, db.ErrNotFound
}
func (downStore) ListPatients(context.Context, int, int) ([]registration.PatientRow, int, error) {
	return nil, 0, nil
}
func (downStore) Ping(context.Context) error { return nil }

var testKey = bytes.Repeat([]byte{0x42}, 32)

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:            env,
		CORSOrigins:    []string{"http://localhost:5173"},
		AuthSigningKey: strings.Repeat("42", 32),
		AuthIssuer:     "jbp-intake",
		BodyLimit:      "64K",
		UploadLimit:    "10M",
		RequestTimeout: 5 * time.Second,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
}

func testRouter(cfg *config.Config) http.Handler {
	svc := registration.NewService(downStore{}, registration.ServiceConfig{Location: time.UTC})
	h := registration.NewHandler(svc, nil, nil, zerolog.Nop())
	ready := func(c echo.Context) error { return c.String(http.StatusOK, "ready") }
	return newRouter(cfg, zerolog.Nop(), h, ready)
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "jbp-intake",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestRouter_Auth(t *testing.T) {
	body := `{"pat_lastname":"Cruz","pat_firstname":"Juan","pat_birthdate":"01/01/1990"}`
	tests := []struct {
		name   string
		env    string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", "production", http.MethodGet, "/api/health", "", http.StatusOK},
		{"legacy health is public", "production", http.MethodGet, "/health", "", http.StatusOK},
		{"ready is public", "production", http.MethodGet, "/api/ready", "", http.StatusOK},
		{"register needs a token", "production", http.MethodPost, "/api/patient/register", "", http.StatusUnauthorized},
		{"viewer cannot register", "production", http.MethodPost, "/api/patient/register", token(t, auth.RoleViewer), http.StatusForbidden},
		// Reaching the store proves the request was authorized.
		{"registrar reaches the store", "production", http.MethodPost, "/api/patient/register", token(t, auth.RoleRegistrar), http.StatusServiceUnavailable},
		{"dev without token is a registrar", "development", http.MethodPost, "/api/patient/register", "", http.StatusServiceUnavailable},
		{"dev still checks tokens", "development", http.MethodPost, "/api/patient/register", "garbage", http.StatusUnauthorized},
		{"viewer lists", "production", http.MethodGet, "/api/patients", token(t, auth.RoleViewer), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testRouter(testConfig(tt.env))

			var reqBody *strings.Reader
			if tt.method == http.MethodPost {
				reqBody = strings.NewReader(body)
			} else {
				reqBody = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, reqBody)
			req.Header.Set("Content-Type", "application/json")
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRouter_GlobalMiddleware(t *testing.T) {
	router := testRouter(testConfig("production"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestRouter_BodyLimit(t *testing.T) {
	cfg := testConfig("development")
	cfg.BodyLimit = "1K"
	router := testRouter(cfg)

	big := `{"pat_lastname":"` + strings.Repeat("A", 2048) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/patient/register", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestRouter_RateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := testConfig("production")
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2
	router := testRouter(cfg)
	tok := token(t, auth.RoleRegistrar)

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/patient/register",
			strings.NewReader(`{"pat_lastname":"Cruz","pat_firstname":"Juan","pat_birthdate":"01/01/1990"}`))
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited < 15 {
		t.Errorf("expected rotating X-Forwarded-For to be rate limited, %d of 20 limited", limited)
	}
}

func TestNewIPExtractor(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		remote  string
		want    string
	}{
		{"no proxies uses peer", nil, "10.1.2.3:5000", "10.1.2.3"},
		{"trusted proxy forwards client", []string{"10.0.0.0/8"}, "10.1.2.3:5000", "198.51.100.9"},
		{"untrusted peer ignored", []string{"10.0.0.0/8"}, "203.0.113.7:5000", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extract := newIPExtractor(&config.Config{TrustedProxies: tt.proxies})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "198.51.100.9")
			if got := extract(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewRecognizer(t *testing.T) {
	cfg := &config.Config{OCREngine: "none"}
	if _, ok := newRecognizer(cfg).(ocr.Disabled); !ok {
		t.Error("expected disabled recognizer")
	}
	cfg.OCREngine = "tesseract"
	cfg.TesseractPath = "/usr/bin/tesseract"
	if r, ok := newRecognizer(cfg).(*ocr.Tesseract); !ok || r.Path != "/usr/bin/tesseract" {
		t.Errorf("expected tesseract recognizer, got %#v", newRecognizer(cfg))
	}
	cfg.OCREngine = "gemini"
	if _, ok := newRecognizer(cfg).(*ocr.Gemini); !ok {
		t.Error("expected gemini recognizer")
	}
}

func TestNewBlobStore(t *testing.T) {
	ctx := context.Background()
	store, err := newBlobStore(ctx, &config.Config{UploadStore: "none"})
	if err != nil || store != nil {
		t.Errorf("expected no store, got %v, %v", store, err)
	}
	store, err = newBlobStore(ctx, &config.Config{UploadStore: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*blobstore.InMemoryBlobStore); !ok {
		t.Errorf("expected in-memory store, got %T", store)
	}
}

func TestNewPublisher(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		sink string
		want interface{}
	}{
		{"none", events.Nop{}},
		{"log", &events.LogPublisher{}},
		{"kafka", &events.KafkaPublisher{}},
	}
	for _, tt := range tests {
		t.Run(tt.sink, func(t *testing.T) {
			cfg := &config.Config{EventsSink: tt.sink, KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "patient-registrations"}
			pub, err := newPublisher(ctx, cfg, zerolog.Nop())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer pub.Close()
			if got, want := fmt.Sprintf("%T", pub), fmt.Sprintf("%T", tt.want); got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
		})
	}
}

func TestOCRParseCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("REPUBLIC OF THE PHILIPPINES\nDELA CRUZ, JUAN SANTOS\n1990-05-14\n"))
	cmd.SetArgs([]string{"ocr", "parse"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{`"pat_lastname": "DELA CRUZ"`, `"pat_firstname": "JUAN"`, `"pat_birthdate": "1990-05-14"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %s in output:\n%s", want, out.String())
		}
	}
}

func TestPrintStatus(t *testing.T) {
	applied := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printStatus(&out, []db.MigrationStatus{
		{Version: 1, Name: "patient_intake", Applied: true, AppliedAt: &applied},
		{Version: 2, Name: "next", Applied: false},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and two rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2024-06-01 08:00:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}
