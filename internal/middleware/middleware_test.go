package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func init() { gin.SetMode(gin.TestMode) }

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/who", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		uid := ""
		if claims != nil {
			uid = claims.UID
		}
		c.JSON(http.StatusOK, gin.H{"uid": uid, "locale": LocaleFrom(c)})
	})
	return r
}

func get(r http.Handler, header map[string]string, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth(testSecret), RequireRole(RoleReviewer, RoleOperator))

	rec := get(r, nil, "/who")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := SignToken(testSecret, "alice", RoleReviewer, time.Hour)
	require.NoError(t, err)
	rec = get(r, map[string]string{"Authorization": "Bearer " + tok}, "/who")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uid":"alice"`)

	forged, err := SignToken([]byte("other"), "alice", RoleReviewer, time.Hour)
	require.NoError(t, err)
	rec = get(r, map[string]string{"Authorization": "Bearer " + forged}, "/who")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := SignToken(testSecret, "alice", RoleReviewer, -time.Minute)
	require.NoError(t, err)
	rec = get(r, map[string]string{"Authorization": "Bearer " + expired}, "/who")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	interviewer, err := SignToken(testSecret, "ivan", RoleInterviewer, time.Hour)
	require.NoError(t, err)
	rec = get(r, map[string]string{"Authorization": "Bearer " + interviewer}, "/who")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLocale(t *testing.T) {
	r := newEngine(Locale())
	assert.Contains(t, get(r, nil, "/who?lang=hi").Body.String(), `"locale":"hi"`)
	assert.Contains(t, get(r, map[string]string{"Accept-Language": "hi-IN,hi;q=0.9"}, "/who").Body.String(), `"locale":"hi"`)
	assert.Contains(t, get(r, map[string]string{"Accept-Language": "fr"}, "/who").Body.String(), `"locale":"en"`)
}

func TestHeaders(t *testing.T) {
	r := newEngine(CORS(), SecureHeaders(), NoStore())
	rec := get(r, nil, "/who")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	req := httptest.NewRequest(http.MethodOptions, "/who", nil)
	pre := httptest.NewRecorder()
	r.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(0.001, 2, time.Hour))
	assert.Equal(t, http.StatusOK, get(r, nil, "/who").Code)
	assert.Equal(t, http.StatusOK, get(r, nil, "/who").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, nil, "/who").Code)

	open := newEngine(RateLimit(0, 0, 0))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(open, nil, "/who").Code)
	}
}
