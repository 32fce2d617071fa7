package service

import (
	"context"
	"strings"

	perr "curator/internal/platform/errors"
)

// Migrate runs every configured schema migration in order
func (s *Svc) Migrate(ctx context.Context) error {
	for _, m := range s.d.Migrators {
		if m == nil {
			continue
		}
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	s.log.Info().Int("migrators", len(s.d.Migrators)).Msg("schemas migrated")
	return nil
}

// SeedCredentials registers the configured tokens and reports how many were new
// registering an existing secret is a no-op, so seeding on every start is safe
func (s *Svc) SeedCredentials(ctx context.Context) (int, error) {
	if len(s.cfg.Tokens) == 0 {
		return 0, nil
	}
	if s.d.Credentials == nil {
		return 0, perr.Configurationf("refresh: credential store not configured")
	}
	created := 0
	for i, raw := range s.cfg.Tokens {
		backend, principal, secret, err := splitToken(raw)
		if err != nil {
			return created, perr.Wrapf(err, perr.ErrorCodeConfiguration, "token %d", i)
		}
		if _, err := s.backend(backend); err != nil {
			return created, err
		}
		_, isNew, err := s.d.Credentials.Register(ctx, backend, principal, secret)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	s.log.Info().Int("tokens", len(s.cfg.Tokens)).Int("created", created).Msg("credentials seeded")
	return created, nil
}

// splitToken reads backend:principal:secret, the secret may itself contain colons
func splitToken(raw string) (backend, principal, secret string, err error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	if len(parts) != 3 {
		return "", "", "", perr.InvalidArgf("want backend:principal:secret")
	}
	backend = strings.ToLower(strings.TrimSpace(parts[0]))
	principal = strings.TrimSpace(parts[1])
	secret = strings.TrimSpace(parts[2])
	if backend == "" || principal == "" || secret == "" {
		return "", "", "", perr.InvalidArgf("backend, principal and secret are required")
	}
	return backend, principal, secret, nil
}
