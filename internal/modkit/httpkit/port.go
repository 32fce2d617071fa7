package httpkit

import (
	"net/http"
	"strings"

	perr "curator/internal/platform/errors"
)

// TokenFunc maps a bearer token to a principal
type TokenFunc func(token string) (userID string, err error)

// Port is a middleware.AuthPort reading "Authorization: Bearer <token>"
type Port struct{ verify TokenFunc }

// NewPortFunc builds a Port around verify
func NewPortFunc(verify TokenFunc) *Port { return &Port{verify: verify} }

// Parse answers unauthorized for a missing or malformed header and for any
// token verify refuses, the refusal reason is not echoed
func (p *Port) Parse(r *http.Request) (string, error) {
	scheme, token, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", perr.Unauthorizedf("missing bearer token")
	}
	if p.verify == nil {
		return "", perr.Unauthorizedf("invalid bearer token")
	}
	uid, err := p.verify(token)
	if err != nil {
		return "", perr.Unauthorizedf("invalid bearer token")
	}
	return uid, nil
}
