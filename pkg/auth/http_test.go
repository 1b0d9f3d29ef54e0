package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signHS256(t *testing.T, claims jwt.Claims, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func validClaims(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "azwork",
		Audience:  jwt.ClaimStrings{"allocations"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
}

func TestVerifyHS256Token(t *testing.T) {
	cfg := MiddlewareConfig{Issuer: "azwork", Audience: "allocations"}
	p, err := VerifyHS256Token(signHS256(t, validClaims("42"), testSecret), testSecret, cfg)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if p.UserID != 42 || p.Subject != "42" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestVerifyHS256TokenRejects(t *testing.T) {
	cfg := MiddlewareConfig{Issuer: "azwork", Audience: "allocations"}
	expired := validClaims("42")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExp := validClaims("42")
	noExp.ExpiresAt = nil
	wrongIss := validClaims("42")
	wrongIss.Issuer = "elsewhere"
	wrongAud := validClaims("42")
	wrongAud.Audience = jwt.ClaimStrings{"reports"}

	cases := map[string]string{
		"expired":         signHS256(t, expired, testSecret),
		"missing exp":     signHS256(t, noExp, testSecret),
		"issuer":          signHS256(t, wrongIss, testSecret),
		"audience":        signHS256(t, wrongAud, testSecret),
		"wrong secret":    signHS256(t, validClaims("42"), "other"),
		"non numeric sub": signHS256(t, validClaims("alice"), testSecret),
		"zero sub":        signHS256(t, validClaims("0"), testSecret),
		"garbage":         "not.a.token",
	}
	for name, tok := range cases {
		if _, err := VerifyHS256Token(tok, testSecret, cfg); err == nil {
			t.Fatalf("%s: expected verification error", name)
		}
	}
	if _, err := VerifyHS256Token(signHS256(t, validClaims("42"), testSecret), "", cfg); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestVerifyHS256TokenRejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims("42")).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyHS256Token(tok, testSecret, MiddlewareConfig{}); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func principalHandler(t *testing.T, want int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || p.UserID != want {
			t.Fatalf("unexpected principal %+v ok=%v", p, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareHS256(t *testing.T) {
	h := Middleware(ModeHS256, testSecret, WithIssuer("azwork"), WithAudience("allocations"), WithLeeway(time.Second))(principalHandler(t, 7))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/budgets", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/budgets", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, validClaims("7"), "wrong"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature got=%d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/budgets", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, validClaims("7"), testSecret))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMiddlewareOff(t *testing.T) {
	h := Middleware(ModeOff, "")(principalHandler(t, 9))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/budgets", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without dev header got=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/budgets", nil)
	req.Header.Set(DevUserHdr, "9")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got=%d", rr.Code)
	}
}

func TestMiddlewareUnsupportedMode(t *testing.T) {
	h := Middleware("oidc_rs256", testSecret)(principalHandler(t, 0))
	req := httptest.NewRequest(http.MethodGet, "/v1/budgets", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, validClaims("7"), testSecret))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsupported mode got=%d", rr.Code)
	}
}

func TestPrincipalFromContextMissing(t *testing.T) {
	if _, ok := PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatal("expected no principal")
	}
}
