package github

import (
	"context"
	"strings"

	"curator/internal/core/capability"
	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

// Backend is the backend name this provider serves
const Backend = "github"

// Provider adapts Client to domain.Provider
type Provider struct{ c *Client }

var _ domain.Provider = (*Provider)(nil)

// NewProvider wraps c
func NewProvider(c *Client) *Provider { return &Provider{c: c} }

// Backend implements domain.Provider
func (p *Provider) Backend() string { return Backend }

// FetchPrimary reads the account or repository document
func (p *Provider) FetchPrimary(ctx context.Context, e *domain.Entity, cred domain.Credential) (domain.Attributes, error) {
	switch e.Key.Kind {
	case entitykey.Account:
		u, err := p.c.UserByLogin(ctx, e.Key.Natural, cred)
		if err != nil {
			return domain.Attributes{}, err
		}
		return domain.Attributes{Fields: u.fields()}, nil
	case entitykey.Repository:
		owner, name, _ := strings.Cut(e.Key.Natural, "/")
		r, err := p.c.RepoByFullName(ctx, owner, name, cred)
		if err != nil {
			return domain.Attributes{}, err
		}
		return domain.Attributes{Fields: r.fields(), Owner: entitykey.Normalize(r.Owner.Login)}, nil
	default:
		return domain.Attributes{}, perr.Configurationf("github: unsupported kind %q", e.Key.Kind)
	}
}

// FetchRelated lists the members of one related collection
func (p *Provider) FetchRelated(ctx context.Context, e *domain.Entity, col capability.Collection, cred domain.Credential) ([]entitykey.Key, error) {
	path, err := relatedPath(e.Key, col.Method)
	if err != nil {
		return nil, err
	}
	switch col.Target {
	case entitykey.Account:
		members, err := p.c.ListMembers(ctx, path, cred)
		if err != nil {
			return nil, err
		}
		out := make([]entitykey.Key, 0, len(members))
		for _, m := range members {
			if k, err := entitykey.New(Backend, entitykey.Account, m.Login); err == nil {
				out = append(out, k)
			}
		}
		return out, nil
	case entitykey.Repository:
		repos, err := p.c.ListRepos(ctx, path, cred)
		if err != nil {
			return nil, err
		}
		out := make([]entitykey.Key, 0, len(repos))
		for _, r := range repos {
			if k, err := entitykey.New(Backend, entitykey.Repository, r.FullName); err == nil {
				out = append(out, k)
			}
		}
		return out, nil
	default:
		return nil, perr.Configurationf("github: collection %s has no target kind", col.Name)
	}
}

func relatedPath(k entitykey.Key, method string) (string, error) {
	switch k.Kind {
	case entitykey.Account:
		switch method {
		case "followers", "following", "repos":
			return "/users/" + k.Natural + "/" + method, nil
		}
	case entitykey.Repository:
		switch method {
		case "contributors", "forks":
			return "/repos/" + k.Natural + "/" + method, nil
		}
	}
	return "", perr.Configurationf("github: no endpoint for %s %s", k.Kind, method)
}
