package http

import (
	"crypto/subtle"
	"strings"

	"curator/internal/modkit/httpkit"
	perr "curator/internal/platform/errors"
	"curator/internal/platform/net/middleware"
)

// AdminPrincipal is the user id attached to requests that present the admin token
const AdminPrincipal = "admin"

// AdminPort guards the admin routes with one shared bearer token
// an empty token disables the guard
func AdminPort(token string) middleware.AuthPort {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return httpkit.NewPortFunc(func(raw string) (string, error) {
		if subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
			return "", perr.Unauthorizedf("invalid admin token")
		}
		return AdminPrincipal, nil
	})
}
