package middleware

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"flexiID/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	svc, err := auth.NewAuthService(privatePEM, publicPEM, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

func serve(r *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	svc := newTestAuthService(t)
	token, err := svc.GenerateAccessToken(42, "operator")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	r := gin.New()
	r.GET("/", AuthMiddleware(svc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetUint(UserIDKey), "role": c.GetString(UserRoleKey)})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != "" {
				h.Set("Authorization", tc.header)
			}
			w := serve(r, h)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK && !strings.Contains(w.Body.String(), `"user":42`) {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	build := func(role string) *gin.Engine {
		r := gin.New()
		r.GET("/", func(c *gin.Context) {
			if role != "" {
				c.Set(UserRoleKey, role)
			}
			c.Next()
		}, RequireRole("admin"), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return r
	}

	if w := serve(build("admin"), nil); w.Code != http.StatusNoContent {
		t.Fatalf("admin status = %d", w.Code)
	}
	if w := serve(build("operator"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("operator status = %d", w.Code)
	}
	if w := serve(build(""), nil); w.Code != http.StatusForbidden {
		t.Fatalf("anonymous status = %d", w.Code)
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(CorrelationIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		seen = GetCorrelationID(c)
		c.Status(http.StatusOK)
	})

	h := http.Header{}
	h.Set(CorrelationIDHeader, "req-123")
	w := serve(r, h)
	if seen != "req-123" || w.Header().Get(CorrelationIDHeader) != "req-123" {
		t.Fatalf("passthrough: seen=%q header=%q", seen, w.Header().Get(CorrelationIDHeader))
	}

	for _, bad := range []string{"", strings.Repeat("x", 65), "has space"} {
		h := http.Header{}
		if bad != "" {
			h.Set(CorrelationIDHeader, bad)
		}
		w := serve(r, h)
		got := w.Header().Get(CorrelationIDHeader)
		if got == bad || len(got) != 36 || seen != got {
			t.Fatalf("input %q: generated %q (seen %q)", bad, got, seen)
		}
	}
}

func TestSlogLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(CorrelationIDMiddleware(), SlogLoggerMiddleware(logger))
	r.GET("/items/:id", func(c *gin.Context) {
		LoggerFromContext(c).Info("inside handler")
		c.Status(http.StatusNotFound)
	})

	h := http.Header{}
	h.Set(CorrelationIDHeader, "corr-1")
	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header = h
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"msg":"inside handler"`, `"correlation_id":"corr-1"`, `"path":"/items/:id"`, `"status":404`, `"level":"WARN"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestLoggerFromContext_Default(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFromContext(c) != slog.Default() {
		t.Fatal("expected slog.Default fallback")
	}
}
