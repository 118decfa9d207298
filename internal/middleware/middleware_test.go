package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"RaspiSensing.scylla/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/go-jose/go-jose.v2"
	"gopkg.in/go-jose/go-jose.v2/jwt"
)

var authConfig = config.AuthConfig{
	JWTSecret:   "test-secret-with-enough-length-for-hs256",
	JWTIssuer:   "https://sensors.example/",
	JWTAudience: "ingest",
}

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	require.NoError(t, err)
	return token
}

func validClaims() jwt.Claims {
	return jwt.Claims{
		Issuer:   authConfig.JWTIssuer,
		Audience: jwt.Audience{authConfig.JWTAudience},
		Subject:  "attic-pi",
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Expiry:   jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func protectedHandler(t *testing.T) http.Handler {
	t.Helper()
	requireToken, err := RequireToken(authConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Success")
	}))
}

func TestRequireToken(t *testing.T) {
	handler := protectedHandler(t)

	expired := validClaims()
	expired.Expiry = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.Audience{"dashboard"}

	cases := map[string]struct {
		header string
		status int
	}{
		"valid":          {"Bearer " + signToken(t, authConfig.JWTSecret, validClaims()), http.StatusOK},
		"missing":        {"", http.StatusUnauthorized},
		"wrong secret":   {"Bearer " + signToken(t, "another-secret-with-enough-length-too", validClaims()), http.StatusUnauthorized},
		"expired":        {"Bearer " + signToken(t, authConfig.JWTSecret, expired), http.StatusUnauthorized},
		"wrong audience": {"Bearer " + signToken(t, authConfig.JWTSecret, wrongAudience), http.StatusUnauthorized},
		"garbage":        {"Bearer not.a.token", http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/posttemp", bytes.NewReader([]byte(`{}`)))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", rec.Header().Get("X-Error-Code"))
			} else {
				assert.Equal(t, "Success", rec.Body.String())
			}
		})
	}
}

func TestRequireTokenNeedsIssuerAndAudience(t *testing.T) {
	_, err := RequireToken(config.AuthConfig{JWTSecret: "s"}, slog.Default())
	assert.Error(t, err)
}

func TestLoggingCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "path=/ping")
}
