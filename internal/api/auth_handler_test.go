package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"flexiID/internal/auth"
	"flexiID/internal/database"
	"flexiID/internal/dbtest"
)

type fakeRateCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeRateCounter() *fakeRateCounter {
	return &fakeRateCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeRateCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "incr", key)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.counts[key]++
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeRateCounter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires[key] = expiration
	cmd := redis.NewBoolCmd(ctx, "expire", key, expiration)
	cmd.SetVal(true)
	return cmd
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
	svc, err := auth.NewAuthService(privatePEM, publicPEM, 2*time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

type authTestEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	svc     *auth.AuthService
	limiter *fakeRateCounter
	user    database.User
}

func newAuthTestEnv(t *testing.T, limit int) authTestEnv {
	t.Helper()
	db := dbtest.New(t)
	svc := newTestAuthService(t)
	limiter := newFakeRateCounter()

	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := database.User{Email: "admin@flexi.test", Name: "Admin", Role: database.RoleOperator, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	h := NewAuthHandler(db, svc, limiter, nil, limit)
	h.now = func() time.Time { return time.Date(2025, 7, 10, 9, 30, 0, 0, time.UTC) }

	r := newTestRouter(user.ID, user.Role)
	r.POST("/v1/auth/login", h.Login)
	r.GET("/v1/auth/me", h.Me)
	return authTestEnv{router: r, db: db, svc: svc, limiter: limiter, user: user}
}

func TestLogin_Success(t *testing.T) {
	env := newAuthTestEnv(t, 5)

	w := doJSON(t, env.router, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": "  Admin@Flexi.TEST ", "password": "s3cret-pass",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decodeBody[tokenResponse](t, w)
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 7200 {
		t.Fatalf("response = %+v", resp)
	}
	claims, err := env.svc.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != env.user.ID || claims.Role != database.RoleOperator {
		t.Fatalf("claims = %+v", claims)
	}

	for key, ttl := range env.limiter.expires {
		if !strings.HasPrefix(key, "rate:login:") || !strings.HasSuffix(key, ":admin@flexi.test:2025071009") || ttl != time.Hour {
			t.Fatalf("rate key %q ttl %v", key, ttl)
		}
	}
}

func TestLogin_Rejects(t *testing.T) {
	env := newAuthTestEnv(t, 0)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"wrong password", map[string]string{"email": "admin@flexi.test", "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", map[string]string{"email": "ghost@flexi.test", "password": "s3cret-pass"}, http.StatusUnauthorized},
		{"missing password", map[string]string{"email": "admin@flexi.test"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, env.router, http.MethodPost, "/v1/auth/login", tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	env := newAuthTestEnv(t, 2)
	body := map[string]string{"email": "admin@flexi.test", "password": "nope"}

	for i := 0; i < 2; i++ {
		if w := doJSON(t, env.router, http.MethodPost, "/v1/auth/login", body); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i+1, w.Code)
		}
	}
	w := doJSON(t, env.router, http.MethodPost, "/v1/auth/login", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if msg := decodeBody[map[string]string](t, w)["error"]; msg != "rate limit exceeded" {
		t.Fatalf("error = %q", msg)
	}
}

func TestLogin_RateLimiterFailsOpen(t *testing.T) {
	env := newAuthTestEnv(t, 1)
	env.limiter.err = errors.New("redis: connection refused")

	for i := 0; i < 3; i++ {
		w := doJSON(t, env.router, http.MethodPost, "/v1/auth/login", map[string]string{
			"email": "admin@flexi.test", "password": "s3cret-pass",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d status = %d", i+1, w.Code)
		}
	}
}

func TestMe(t *testing.T) {
	env := newAuthTestEnv(t, 0)

	w := doJSON(t, env.router, http.MethodGet, "/v1/auth/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[map[string]any](t, w)
	if resp["email"] != "admin@flexi.test" || resp["role"] != database.RoleOperator {
		t.Fatalf("response = %v", resp)
	}

	env.db.Unscoped().Delete(&env.user)
	if w := doJSON(t, env.router, http.MethodGet, "/v1/auth/me", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user status = %d", w.Code)
	}
}
