package github

import "time"

// Repo is a partial GitHub repository document with fields we use
type Repo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Owner       Member    `json:"owner"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	ForksCount  int       `json:"forks_count"`
	Stargazers  int       `json:"stargazers_count"`
	Subscribers int       `json:"subscribers_count"`
	OpenIssues  int       `json:"open_issues_count"`
	Fork        bool      `json:"fork"`
	Archived    bool      `json:"archived"`
	PushedAt    time.Time `json:"pushed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HTMLURL     string    `json:"html_url"`
}

// User is a partial GitHub user or org document
type User struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Bio         string    `json:"bio"`
	Blog        string    `json:"blog"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	PublicRepos int       `json:"public_repos"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HTMLURL     string    `json:"html_url"`
}

// Member is the short user document returned by list endpoints
type Member struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// RepoRef is the short repository document returned by list endpoints
type RepoRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

func (r Repo) fields() map[string]any {
	return map[string]any{
		"id":          r.ID,
		"name":        r.Name,
		"full_name":   r.FullName,
		"description": r.Description,
		"language":    r.Language,
		"topics":      r.Topics,
		"forks":       r.ForksCount,
		"stars":       r.Stargazers,
		"watchers":    r.Subscribers,
		"open_issues": r.OpenIssues,
		"fork":        r.Fork,
		"archived":    r.Archived,
		"pushed_at":   r.PushedAt,
		"html_url":    r.HTMLURL,
	}
}

func (u User) fields() map[string]any {
	return map[string]any{
		"id":           u.ID,
		"login":        u.Login,
		"type":         u.Type,
		"name":         u.Name,
		"company":      u.Company,
		"location":     u.Location,
		"bio":          u.Bio,
		"blog":         u.Blog,
		"followers":    u.Followers,
		"following":    u.Following,
		"public_repos": u.PublicRepos,
		"created_at":   u.CreatedAt,
		"html_url":     u.HTMLURL,
	}
}
