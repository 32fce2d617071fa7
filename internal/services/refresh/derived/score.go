package derived

import (
	"encoding/json"
	"math"
	"slices"
	"strings"

	"curator/internal/core/entitykey"
	"curator/internal/core/langhint"
	"curator/internal/services/refresh/domain"
)

// popularity bands by score, highest first
var bands = []struct {
	min  float64
	name string
}{
	{30, "popular"},
	{15, "notable"},
	{5, "active"},
	{0, "quiet"},
}

// RepositoryScore grows with the log of stars, forks and watchers
// forks of other repositories count half
func RepositoryScore(attrs map[string]any) float64 {
	s := 3*math.Log1p(number(attrs["stars"])) +
		2*math.Log1p(number(attrs["forks"])) +
		math.Log1p(number(attrs["watchers"]))
	if b, _ := attrs["fork"].(bool); b {
		s /= 2
	}
	return round(s)
}

// AccountScore combines followers with the mean of the account's best repositories
func AccountScore(attrs map[string]any, best []float64) float64 {
	s := 2 * math.Log1p(number(attrs["followers"]))
	if len(best) > 0 {
		var sum float64
		for _, b := range best {
			sum += b
		}
		s += sum / float64(len(best))
	}
	return round(s)
}

// Band names the popularity band of score
func Band(score float64) string {
	for _, b := range bands {
		if score >= b.min {
			return b.name
		}
	}
	return bands[len(bands)-1].name
}

// Tags derives the sorted tag set of an entity
func Tags(e *domain.Entity, score float64) []string {
	set := map[string]struct{}{
		"kind:" + string(e.Key.Kind): {},
		"band:" + Band(score):        {},
	}
	add := func(prefix, v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[prefix+v] = struct{}{}
		}
	}
	if e.Key.Kind == entitykey.Repository {
		add("lang:", str(e.Attributes["language"]))
		for _, t := range strs(e.Attributes["topics"]) {
			add("topic:", t)
		}
		if b, _ := e.Attributes["archived"].(bool); b {
			set["archived"] = struct{}{}
		}
	} else {
		add("type:", str(e.Attributes["type"]))
	}
	if h := langhint.Detect(summaryOf(e)); h.Script != "" {
		add("script:", h.Script)
		add("text:", h.Lang)
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Doc builds the search document of an entity
func Doc(e *domain.Entity, score float64, tags []string) domain.SearchDoc {
	name := e.Key.Natural
	field := "name"
	if e.Key.Kind == entitykey.Repository {
		field = "full_name"
	}
	if v := str(e.Attributes[field]); v != "" {
		name = v
	}
	return domain.SearchDoc{
		EntityKey: e.Key.String(),
		Backend:   e.Key.Backend,
		Kind:      string(e.Key.Kind),
		Name:      name,
		Summary:   summaryOf(e),
		Score:     score,
		Tags:      tags,
		Deleted:   e.Deleted,
	}
}

// summaryOf is the free text of an entity: description for repositories, bio for accounts
func summaryOf(e *domain.Entity) string {
	if e.Key.Kind == entitykey.Repository {
		return str(e.Attributes["description"])
	}
	return str(e.Attributes["bio"])
}

// number reads counters from freshly fetched (int) and stored (float64) attributes alike
func number(v any) float64 {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		f, _ = n.Float64()
	}
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	return f
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func round(f float64) float64 { return math.Round(f*1000) / 1000 }
