package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func adminRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	s := NewServer(Deps{AdminToken: token})
	r := gin.New()
	r.POST("/guarded", s.requireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequireAdminHeader(t *testing.T) {
	r := adminRouter("sekret")

	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("X-Admin-Token", "sekret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdminQueryParam(t *testing.T) {
	r := adminRouter("sekret")

	req := httptest.NewRequest(http.MethodPost, "/guarded?token=sekret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdminRejectsMissingOrWrong(t *testing.T) {
	r := adminRouter("sekret")

	for _, build := range []func() *http.Request{
		func() *http.Request { return httptest.NewRequest(http.MethodPost, "/guarded", nil) },
		func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
			req.Header.Set("X-Admin-Token", "wrong")
			return req
		},
		func() *http.Request { return httptest.NewRequest(http.MethodPost, "/guarded?token=wrong", nil) },
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, build())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "admin token")
	}
}

func TestRequireAdminDisabledWhenEmpty(t *testing.T) {
	r := adminRouter("")

	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(securityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}
