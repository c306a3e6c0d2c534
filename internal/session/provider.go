// Package session identifies visitors across redirects and pixels. A ULID
// session id rides in a long-lived cookie; the rest of the context is
// derived from request headers on every hit.
package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/splitflow/splitflow/internal/models"
)

// Provider resolves the visitor session for an inbound request.
type Provider struct {
	cookieName string
	ttl        time.Duration
	geo        GeoResolver
}

// NewProvider creates a session Provider. geo may be nil when GeoIP is
// disabled.
func NewProvider(cookieName string, ttl time.Duration, geo GeoResolver) *Provider {
	return &Provider{
		cookieName: cookieName,
		ttl:        ttl,
		geo:        geo,
	}
}

// Resolve returns the session context for the request, minting a new session
// id and refreshing the cookie when none is present.
func (p *Provider) Resolve(w http.ResponseWriter, r *http.Request) models.SessionContext {
	sessionID := ""
	if c, err := r.Cookie(p.cookieName); err == nil && c.Value != "" {
		sessionID = c.Value
	}
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     p.cookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  time.Now().Add(p.ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	ua := r.UserAgent()
	deviceType, isBot := parseUserAgent(ua)
	ip := clientIP(r)

	ctx := models.SessionContext{
		SessionID:  sessionID,
		UserAgent:  ua,
		IP:         ip,
		Referer:    r.Referer(),
		DeviceType: deviceType,
		IsBot:      isBot,
	}
	if p.geo != nil {
		ctx.Location = p.geo.Country(ip)
	}
	return ctx
}

// clientIP extracts the client IP from proxy headers, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
