package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/orion-chat/internal/auth"
	"github.com/suPer8Hu/orion-chat/internal/logger"
)

const testSecret = "test-secret"

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/who", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })
	return r
}

func do(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newEngine(AuthRequired(testSecret, nil))

	w := do(r, "/who", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/who", map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := auth.SignJWT("u1", testSecret, -time.Minute)
	require.NoError(t, err)
	w = do(r, "/who", map[string]string{"Authorization": "Bearer " + expired})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "token expired")

	token, err := auth.SignJWT("u1", testSecret, time.Hour)
	require.NoError(t, err)
	w = do(r, "/who", map[string]string{"Authorization": "bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", w.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	r := newEngine(OptionalAuth(testSecret, nil))

	w := do(r, "/who", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())

	w = do(r, "/who", map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())

	token, err := auth.SignJWT("u2", testSecret, time.Hour)
	require.NoError(t, err)
	w = do(r, "/who", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, "u2", w.Body.String())
}

// knownUsers only accepts u1; "broken" makes the lookup fail.
func knownUsers(ctx context.Context, uid string) (bool, error) {
	if uid == "broken" {
		return false, errors.New("db down")
	}
	return uid == "u1", nil
}

func bearer(t *testing.T, uid string) map[string]string {
	t.Helper()
	token, err := auth.SignJWT(uid, testSecret, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuthRequired_ChecksUserExists(t *testing.T) {
	r := newEngine(AuthRequired(testSecret, knownUsers))

	w := do(r, "/who", bearer(t, "u1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", w.Body.String())

	w = do(r, "/who", bearer(t, "ghost"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "user not found")

	w = do(r, "/who", bearer(t, "broken"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOptionalAuth_UnknownUserIsAnonymous(t *testing.T) {
	r := newEngine(OptionalAuth(testSecret, knownUsers))

	require.Equal(t, "u1", do(r, "/who", bearer(t, "u1")).Body.String())

	for _, uid := range []string{"ghost", "broken"} {
		w := do(r, "/who", bearer(t, uid))
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Body.String(), uid)
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := newEngine(RequestID(), Recovery(logger.Nop()))

	w := do(r, "/panic", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, w.Header().Get(RequestIDHeader), 26)

	w = do(r, "/who", map[string]string{RequestIDHeader: "abc-123"})
	require.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	r := newEngine(CORS([]string{"http://localhost:5173"}, `^https://[a-z0-9-]+\.vercel\.app$`))

	for origin, allowed := range map[string]bool{
		"http://localhost:5173":       true,
		"https://orion-ui.vercel.app": true,
		"https://evil.example.com":    false,
	} {
		w := do(r, "/who", map[string]string{"Origin": origin})
		if allowed {
			require.Equal(t, origin, w.Header().Get("Access-Control-Allow-Origin"), origin)
		} else {
			require.Equal(t, http.StatusForbidden, w.Code, origin)
		}
	}
}
