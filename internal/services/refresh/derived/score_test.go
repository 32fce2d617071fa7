package derived

import (
	"testing"

	"curator/internal/core/entitykey"
	"curator/internal/services/refresh/domain"

	"github.com/stretchr/testify/assert"
)

func TestRepositoryScore_MonotonicAndTypeAgnostic(t *testing.T) {
	fresh := map[string]any{"stars": 120, "forks": 8, "watchers": 5}
	stored := map[string]any{"stars": 120.0, "forks": 8.0, "watchers": 5.0}
	assert.Equal(t, RepositoryScore(fresh), RepositoryScore(stored))

	more := map[string]any{"stars": 1200, "forks": 8, "watchers": 5}
	assert.Greater(t, RepositoryScore(more), RepositoryScore(fresh))
	assert.Zero(t, RepositoryScore(nil))
	assert.Zero(t, RepositoryScore(map[string]any{"stars": -4}))
}

func TestRepositoryScore_ForksCountHalf(t *testing.T) {
	a := map[string]any{"stars": 50}
	b := map[string]any{"stars": 50, "fork": true}
	assert.InDelta(t, RepositoryScore(a)/2, RepositoryScore(b), 0.001)
}

func TestAccountScore_UsesMeanOfBest(t *testing.T) {
	attrs := map[string]any{"followers": 0}
	assert.Equal(t, 0.0, AccountScore(attrs, nil))
	assert.Equal(t, 15.0, AccountScore(attrs, []float64{20, 10}))
	assert.Greater(t, AccountScore(map[string]any{"followers": 10}, []float64{20, 10}), 15.0)
}

func TestBand(t *testing.T) {
	cases := map[float64]string{0: "quiet", 4.99: "quiet", 5: "active", 15: "notable", 99: "popular"}
	for score, want := range cases {
		assert.Equal(t, want, Band(score), "score %v", score)
	}
}

func TestTags_Repository(t *testing.T) {
	e := &domain.Entity{
		Key: entitykey.MustNew("github", entitykey.Repository, "alice/proj"),
		Attributes: map[string]any{
			"language": "Go",
			"topics":   []any{"CLI", "redis", ""},
			"archived": true,
		},
	}
	assert.Equal(t,
		[]string{"archived", "band:active", "kind:repository", "lang:go", "topic:cli", "topic:redis"},
		Tags(e, 7),
	)
}

func TestTags_Account(t *testing.T) {
	e := &domain.Entity{
		Key:        entitykey.MustNew("github", entitykey.Account, "alice"),
		Attributes: map[string]any{"type": "Organization"},
	}
	assert.Equal(t, []string{"band:quiet", "kind:account", "type:organization"}, Tags(e, 1))
}

func TestDoc_PrefersDisplayNames(t *testing.T) {
	e := &domain.Entity{
		Key:        entitykey.MustNew("github", entitykey.Account, "alice"),
		Attributes: map[string]any{"name": "Alice A.", "bio": "builds things"},
	}
	d := Doc(e, 3, []string{"kind:account"})
	assert.Equal(t, "github:account:alice", d.EntityKey)
	assert.Equal(t, "Alice A.", d.Name)
	assert.Equal(t, "builds things", d.Summary)
	assert.Equal(t, "account", d.Kind)

	r := Doc(&domain.Entity{Key: entitykey.MustNew("github", entitykey.Repository, "a/b")}, 0, nil)
	assert.Equal(t, "a/b", r.Name)
}

func TestTags_DescriptionScript(t *testing.T) {
	e := &domain.Entity{
		Key:        entitykey.MustNew("github", entitykey.Repository, "alice/kit"),
		Attributes: map[string]any{"description": "간단한 명령줄 도구입니다 서버 상태를 확인하고 보고합니다"},
	}
	tags := Tags(e, 0)
	assert.Contains(t, tags, "script:hangul")
	assert.Contains(t, tags, "text:ko")

	e.Attributes["description"] = "tiny cli"
	tags = Tags(e, 0)
	assert.Contains(t, tags, "script:latin")
	for _, tg := range tags {
		assert.NotContains(t, tg, "text:")
	}
}
