package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func runJWT(t *testing.T, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	h := JWTMiddleware(JWTConfig{Issuer: "healthcore", SigningKey: testKey})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return c, h(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-42",
			Issuer:    "healthcore",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"scheduler"},
	}, testKey)

	c, err := runJWT(t, "Bearer "+tok)
	require.NoError(t, err)
	assert.Equal(t, "nurse-42", UserIDFromContext(c.Request().Context()))
	assert.Equal(t, []string{"scheduler"}, RolesFromContext(c.Request().Context()))
	assert.Equal(t, "nurse-42", c.Get("user_id"))
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "u", Issuer: "healthcore", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}, testKey)
	wrongKey := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "healthcore"}}, []byte("other"))
	wrongIssuer := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "evil"}}, testKey)
	noSubject := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "healthcore"}}, testKey)

	for name, header := range map[string]string{
		"missing":      "",
		"basic scheme": "Basic abc",
		"expired":      "Bearer " + expired,
		"wrong key":    "Bearer " + wrongKey,
		"wrong issuer": "Bearer " + wrongIssuer,
		"no subject":   "Bearer " + noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := runJWT(t, header)
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, http.StatusUnauthorized, he.Code)
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	h := DevAuthMiddleware()(func(c echo.Context) error { return nil })

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	require.NoError(t, h(c))
	assert.Equal(t, "dev-user", UserIDFromContext(c.Request().Context()))
	assert.Equal(t, []string{"admin"}, RolesFromContext(c.Request().Context()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "frontdesk-1")
	c = e.NewContext(req, httptest.NewRecorder())
	require.NoError(t, h(c))
	assert.Equal(t, "frontdesk-1", UserIDFromContext(c.Request().Context()))
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"admin passes", []string{"admin"}, http.StatusOK},
		{"matching role", []string{"scheduler"}, http.StatusOK},
		{"other role", []string{"billing"}, http.StatusForbidden},
		{"no roles", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			setIdentity(c, "u", tt.roles)

			err := RequireRole("scheduler")(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
			if tt.want == http.StatusOK {
				assert.NoError(t, err)
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}
