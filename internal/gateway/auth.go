package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/coursemate/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "none"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Token string
}

// Required reports whether clients must present a token.
func (a ResolvedAuth) Required() bool { return a.Token != "" }

// ResolveAuth resolves the gateway token from config, falling back to
// COURSEMATE_GATEWAY_TOKEN.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Token: cfg.Token}
	if auth.Token == "" {
		auth.Token = os.Getenv("COURSEMATE_GATEWAY_TOKEN")
	}
	return auth
}

// Authorize checks the credentials of a WebSocket connect request.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if !serverAuth.Required() {
		return AuthResult{OK: true, Method: "none"}
	}
	if clientAuth == nil || clientAuth.Token == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}
	if !safeEqual(clientAuth.Token, serverAuth.Token) {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	return AuthResult{OK: true, Method: "token"}
}

// AuthorizeRequest checks the bearer token of an HTTP request.
func AuthorizeRequest(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	if !serverAuth.Required() {
		return AuthResult{OK: true, Method: "none"}
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return AuthResult{OK: false, Reason: "token required"}
	}
	return Authorize(serverAuth, &ConnectAuth{Token: strings.TrimSpace(token)})
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
