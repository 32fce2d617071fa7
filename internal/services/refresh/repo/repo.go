// Package repo provides the refresh repository implementation
package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
	"curator/internal/modkit/repokit"
	perr "curator/internal/platform/errors"
	"curator/internal/platform/store"
	"curator/internal/services/refresh/domain"
)

//go:embed schema.sql
var schema string

// Repo defines the refresh repository contract
type Repo interface {
	domain.Storage
	domain.DerivedStorage
	domain.SweepStorage

	// Migrate applies the idempotent schema
	Migrate(ctx context.Context) error
}

type (
	// PG is a Postgres refresh repository
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG constructs a Postgres refresh repository
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind binds a Queryer to a Postgres implementation of Repo
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

// LockTimeout bounds row lock waits inside refresh transactions
func LockTimeout(d time.Duration) repokit.BeginHook {
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())
	return func(ctx context.Context, q repokit.Queryer) error {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return perr.FromPostgres(err, "refresh: lock timeout")
		}
		return nil
	}
}

// tx runs fn in a transaction when the bound Queryer can open one
func (r *queries) tx(ctx context.Context, fn func(q repokit.Queryer) error) error {
	if t, ok := r.q.(repokit.TxRunner); ok {
		return repokit.WithTx(ctx, t, fn)
	}
	return fn(r.q)
}

// Migrate creates tables and indexes when missing
func (r *queries) Migrate(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, schema); err != nil {
		return perr.FromPostgres(err, "refresh: migrate")
	}
	return nil
}

const entityCols = `id, backend, kind, natural_key, last_fetch, last_attempt, deleted,
	backend_last_status, backend_same_status, attributes, owner, score, tags`

func scanEntity(row store.Row) (*domain.Entity, error) {
	var (
		e       domain.Entity
		backend string
		kind    string
		natural string
		attrs   []byte
		owner   *string
	)
	if err := row.Scan(
		&e.ID, &backend, &kind, &natural, &e.LastFetch, &e.LastAttempt, &e.Deleted,
		&e.BackendLastStatus, &e.BackendSameStatus, &attrs, &owner, &e.Score, &e.Tags,
	); err != nil {
		return nil, err
	}
	e.Key = entitykey.Key{Backend: backend, Kind: entitykey.Kind(kind), Natural: natural}
	if owner != nil {
		e.Owner = *owner
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeJSON, "refresh: decode attributes")
		}
	}
	return &e, nil
}

// Load returns the entity with its collection descriptors, nil when unknown
func (r *queries) Load(ctx context.Context, key entitykey.Key) (*domain.Entity, error) {
	e, err := store.One(ctx, r.q, scanEntity,
		`SELECT `+entityCols+` FROM entities WHERE backend = $1 AND kind = $2 AND natural_key = $3`,
		key.Backend, string(key.Kind), key.Natural,
	)
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, perr.FromPostgresf(err, "refresh: load %s", key)
	}
	if e.Related, err = r.collections(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *queries) collections(ctx context.Context, id int64) (map[string]entitystate.Descriptor, error) {
	const sql = `SELECT name, method, count, modified FROM entity_collections WHERE entity_id = $1`
	rows, err := r.q.Query(ctx, sql, id)
	if err != nil {
		return nil, perr.FromPostgres(err, "refresh: load collections")
	}
	defer rows.Close()

	out := map[string]entitystate.Descriptor{}
	for rows.Next() {
		var (
			d     entitystate.Descriptor
			count *int32
		)
		if err := rows.Scan(&d.Name, &d.Method, &count, &d.Modified); err != nil {
			return nil, err
		}
		if count != nil {
			n := int(*count)
			d.Count = &n
		}
		out[d.Name] = d
	}
	return out, rows.Err()
}

// Create inserts the entity if missing and returns the stored row
func (r *queries) Create(ctx context.Context, key entitykey.Key) (*domain.Entity, error) {
	const sql = `
		INSERT INTO entities (backend, kind, natural_key, owner)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (backend, kind, natural_key) DO NOTHING
	`
	owner := ""
	if o, ok := key.Owner(); ok {
		owner = o.Natural
	}
	if _, err := r.q.Exec(ctx, sql, key.Backend, string(key.Kind), key.Natural, owner); err != nil {
		return nil, perr.FromPostgresf(err, "refresh: create %s", key)
	}
	e, err := r.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, perr.Newf(perr.ErrorCodeDB, "refresh: %s vanished after insert", key)
	}
	return e, nil
}

// Save writes only the column groups named in fields
func (r *queries) Save(ctx context.Context, e *domain.Entity, fields ...domain.Field) error {
	if e == nil || e.ID == 0 {
		return perr.InvalidArgf("refresh: save needs a stored entity")
	}
	if len(fields) == 0 {
		return nil
	}

	var (
		sets []string
		args = []any{e.ID}
	)
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	seen := map[domain.Field]bool{}
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		switch f {
		case domain.FieldAttributes:
			attrs := e.Attributes
			if attrs == nil {
				attrs = map[string]any{}
			}
			b, err := json.Marshal(attrs)
			if err != nil {
				return perr.Wrap(err, perr.ErrorCodeJSON, "refresh: encode attributes")
			}
			sets = append(sets,
				"attributes = "+arg(b)+"::jsonb",
				"owner = COALESCE(NULLIF("+arg(e.Owner)+", ''), owner)",
			)
		case domain.FieldLastFetch:
			sets = append(sets, "last_fetch = "+arg(e.LastFetch))
		case domain.FieldBackendStatus:
			sets = append(sets,
				"last_attempt = "+arg(e.LastAttempt),
				"backend_last_status = "+arg(e.BackendLastStatus),
				"backend_same_status = "+arg(e.BackendSameStatus),
			)
		default:
			return perr.InvalidArgf("refresh: unknown field %q", f)
		}
	}
	sql := `UPDATE entities SET ` + strings.Join(sets, ", ") + `, updated_at = NOW() WHERE id = $1`
	if _, err := r.q.Exec(ctx, sql, args...); err != nil {
		return perr.FromPostgresf(err, "refresh: save %s", e.Key)
	}
	return nil
}

// SaveCollection upserts one related-collection descriptor
func (r *queries) SaveCollection(ctx context.Context, id int64, d entitystate.Descriptor) error {
	const sql = `
		INSERT INTO entity_collections (entity_id, name, method, count, modified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, name) DO UPDATE SET
			method   = excluded.method,
			count    = excluded.count,
			modified = excluded.modified
	`
	if _, err := r.q.Exec(ctx, sql, id, d.Name, d.Method, d.Count, d.Modified); err != nil {
		return perr.FromPostgresf(err, "refresh: save collection %s", d.Name)
	}
	return nil
}

// Members lists the stored members of one collection
func (r *queries) Members(ctx context.Context, id int64, collection string) ([]entitykey.Key, error) {
	const sql = `
		SELECT member_key FROM entity_relations
		WHERE entity_id = $1 AND collection = $2
		ORDER BY member_key
	`
	rows, err := r.q.Query(ctx, sql, id, collection)
	if err != nil {
		return nil, perr.FromPostgres(err, "refresh: members")
	}
	defer rows.Close()

	var out []entitykey.Key
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		k, err := entitykey.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SyncMembers applies a member diff in one transaction; both steps are idempotent
func (r *queries) SyncMembers(ctx context.Context, id int64, collection string, add, remove []entitykey.Key) error {
	return r.tx(ctx, func(q repokit.Queryer) error {
		if len(add) > 0 {
			const sql = `
				INSERT INTO entity_relations (entity_id, collection, member_key)
				SELECT $1, $2, UNNEST($3::text[])
				ON CONFLICT DO NOTHING
			`
			if _, err := q.Exec(ctx, sql, id, collection, keyStrings(add)); err != nil {
				return perr.FromPostgresf(err, "refresh: add members %s", collection)
			}
		}
		if len(remove) > 0 {
			const sql = `
				DELETE FROM entity_relations
				WHERE entity_id = $1 AND collection = $2 AND member_key = ANY($3::text[])
			`
			if _, err := q.Exec(ctx, sql, id, collection, keyStrings(remove)); err != nil {
				return perr.FromPostgresf(err, "refresh: remove members %s", collection)
			}
		}
		return nil
	})
}

// SoftDelete flags the entity and clears its related collections
func (r *queries) SoftDelete(ctx context.Context, id int64) error {
	stmts := []string{
		`UPDATE entities SET deleted = TRUE, updated_at = NOW() WHERE id = $1`,
		`DELETE FROM entity_relations WHERE entity_id = $1`,
		`DELETE FROM entity_collections WHERE entity_id = $1`,
	}
	return r.tx(ctx, func(q repokit.Queryer) error {
		for _, s := range stmts {
			if _, err := q.Exec(ctx, s, id); err != nil {
				return perr.FromPostgres(err, "refresh: soft delete")
			}
		}
		return nil
	})
}

// BestScores returns the top repository scores owned by an account
func (r *queries) BestScores(ctx context.Context, owner entitykey.Key, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 5
	}
	const sql = `
		SELECT score FROM entities
		WHERE backend = $1 AND kind = 'repository' AND owner = $2 AND NOT deleted
		ORDER BY score DESC
		LIMIT $3
	`
	out, err := store.Many(ctx, r.q, scanScore, sql, owner.Backend, owner.Natural, limit)
	if err != nil {
		return nil, perr.FromPostgres(err, "refresh: best scores")
	}
	return out, nil
}

func scanScore(row store.Row) (float64, error) {
	var s float64
	err := row.Scan(&s)
	return s, err
}

// SaveDerived writes score and tags
func (r *queries) SaveDerived(ctx context.Context, id int64, score float64, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	const sql = `UPDATE entities SET score = $2, tags = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.q.Exec(ctx, sql, id, score, tags); err != nil {
		return perr.FromPostgres(err, "refresh: save derived")
	}
	return nil
}

// Stale lists live entities whose primary data or any collection predates the cutoffs
func (r *queries) Stale(ctx context.Context, q domain.StaleQuery) ([]*domain.Entity, error) {
	if q.Limit <= 0 {
		q.Limit = 1000
	}
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`SELECT ` + entityCols + ` FROM entities e WHERE NOT e.deleted`)
	if q.Backend != "" {
		sb.WriteString(" AND e.backend = " + arg(q.Backend))
	}
	if q.Kind != "" {
		sb.WriteString(" AND e.kind = " + arg(string(q.Kind)))
	}
	fetched := orEpoch(q.FetchedBefore)
	related := orEpoch(q.RelatedBefore)
	missing := ""
	if len(q.Collections) > 0 {
		missing = `
			OR NOT (` + arg(q.Collections) + `::text[] <@ ARRAY(SELECT c.name FROM entity_collections c WHERE c.entity_id = e.id))`
	}
	sb.WriteString(`
		AND (
			e.last_fetch IS NULL
			OR e.last_fetch < ` + arg(fetched) + `
			OR NOT EXISTS (SELECT 1 FROM entity_collections c WHERE c.entity_id = e.id)` + missing + `
			OR EXISTS (
				SELECT 1 FROM entity_collections c
				WHERE c.entity_id = e.id
				  AND (c.count IS NULL OR c.modified IS NULL OR c.modified < ` + arg(related) + `)
			)
		)`)
	if c := q.After; c != nil {
		// keyset over (last_fetch NULLS FIRST, id)
		if c.LastFetch == nil {
			sb.WriteString(" AND (e.last_fetch IS NOT NULL OR e.id > " + arg(c.ID) + ")")
		} else {
			t := arg(*c.LastFetch)
			sb.WriteString(" AND e.last_fetch IS NOT NULL AND (e.last_fetch > " + t + " OR (e.last_fetch = " + t + " AND e.id > " + arg(c.ID) + "))")
		}
	}
	sb.WriteString(`
		ORDER BY e.last_fetch NULLS FIRST, e.id
		LIMIT ` + arg(q.Limit))

	out, err := store.Many(ctx, r.q, scanEntity, sb.String(), args...)
	if err != nil {
		return nil, perr.FromPostgres(err, "refresh: stale")
	}
	for _, e := range out {
		if e.Related, err = r.collections(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func keyStrings(ks []entitykey.Key) []string {
	out := make([]string, 0, len(ks))
	for _, k := range ks {
		out = append(out, k.String())
	}
	return out
}

// orEpoch maps a zero cutoff to the epoch so the comparison never matches
func orEpoch(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}
