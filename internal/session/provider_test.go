package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMintsSession(t *testing.T) {
	p := NewProvider("sf_session", time.Hour, nil)

	r := httptest.NewRequest(http.MethodGet, "/spring-sale", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148")
	r.Header.Set("Referer", "https://news.example.com/article")
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	w := httptest.NewRecorder()

	sess := p.Resolve(w, r)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, DevicePhone, sess.DeviceType)
	assert.Equal(t, "203.0.113.7", sess.IP)
	assert.Equal(t, "https://news.example.com/article", sess.Referer)
	assert.False(t, sess.IsBot)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sf_session", cookies[0].Name)
	assert.Equal(t, sess.SessionID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestResolveReusesCookie(t *testing.T) {
	p := NewProvider("sf_session", time.Hour, nil)

	r := httptest.NewRequest(http.MethodGet, "/spring-sale", nil)
	r.AddCookie(&http.Cookie{Name: "sf_session", Value: "existing-session-id"})
	w := httptest.NewRecorder()

	sess := p.Resolve(w, r)
	assert.Equal(t, "existing-session-id", sess.SessionID)
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.4:54321"
	assert.Equal(t, "198.51.100.4", clientIP(r))

	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
