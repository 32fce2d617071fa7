package github

import (
	"context"
	"encoding/json"
	"io"
	"net/url"

	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

// UserByLogin fetches GET /users/{login}
func (c *Client) UserByLogin(ctx context.Context, login string, cred domain.Credential) (User, error) {
	var out User
	_, err := c.getJSON(ctx, "/users/"+url.PathEscape(login), cred, &out)
	return out, err
}

// RepoByFullName fetches GET /repos/{owner}/{name}
func (c *Client) RepoByFullName(ctx context.Context, owner, name string, cred domain.Credential) (Repo, error) {
	var out Repo
	_, err := c.getJSON(ctx, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name), cred, &out)
	return out, err
}

// ListMembers walks a paginated list of user documents
func (c *Client) ListMembers(ctx context.Context, path string, cred domain.Credential) ([]Member, error) {
	return listAll[Member](ctx, c, path, cred)
}

// ListRepos walks a paginated list of repository documents
func (c *Client) ListRepos(ctx context.Context, path string, cred domain.Credential) ([]RepoRef, error) {
	return listAll[RepoRef](ctx, c, path, cred)
}

func listAll[T any](ctx context.Context, c *Client, path string, cred domain.Credential) ([]T, error) {
	var out []T
	next := withPerPage(path)
	for page := 0; next != "" && page < c.opts.MaxPages; page++ {
		var items []T
		n, err := c.getJSON(ctx, next, cred, &items)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		next = n
	}
	if next != "" {
		c.log.Debug().Str("path", path).Int("max_pages", c.opts.MaxPages).Msg("github list truncated at page cap")
	}
	return out, nil
}

// getJSON decodes the body into out and returns the next page link, if any
func (c *Client) getJSON(ctx context.Context, pathOrURL string, cred domain.Credential, out any) (string, error) {
	resp, err := c.Do(ctx, pathOrURL, cred)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Error().Err(cerr).Str("path", pathOrURL).Msg("github close body failed")
		}
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeUnavailable, "github read body failed")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeJSON, "github decode %s", pathOrURL)
	}
	return nextLink(resp.Header), nil
}

func withPerPage(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	if q.Get("per_page") == "" {
		q.Set("per_page", "100")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
