// Package search writes entity documents to the ClickHouse search table
package search

import (
	"context"
	"strings"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/platform/store"
	"curator/internal/services/refresh/domain"
)

// Table is the ReplacingMergeTree holding one current row per entity
const Table = "entity_search"

const ddl = `
CREATE TABLE IF NOT EXISTS ` + Table + ` (
	entity_key String,
	backend    LowCardinality(String),
	kind       LowCardinality(String),
	name       String,
	summary    String,
	score      Float64,
	tags       Array(LowCardinality(String)),
	deleted    UInt8,
	updated_at DateTime64(3, 'UTC')
)
ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (backend, entity_key)
`

// Index implements domain.SearchIndex on a store.Clickhouse seam
type Index struct {
	ch  store.Clickhouse
	now func() time.Time
}

var _ domain.SearchIndex = (*Index)(nil)

// New builds an index writer
func New(ch store.Clickhouse) *Index {
	return &Index{ch: ch, now: time.Now}
}

// Migrate creates the search table when missing
func (x *Index) Migrate(ctx context.Context) error {
	if x == nil || x.ch == nil {
		return perr.Configurationf("search: clickhouse is not configured")
	}
	if err := x.ch.Exec(ctx, ddl); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "search: migrate")
	}
	return nil
}

// Upsert appends rows; ReplacingMergeTree keeps the newest per key
func (x *Index) Upsert(ctx context.Context, docs ...domain.SearchDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if x == nil || x.ch == nil {
		return perr.Configurationf("search: clickhouse is not configured")
	}
	rows := make([][]any, 0, len(docs))
	for _, d := range docs {
		at := d.UpdatedAt
		if at.IsZero() {
			at = x.now()
		}
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		var deleted uint8
		if d.Deleted {
			deleted = 1
		}
		rows = append(rows, []any{
			d.EntityKey, d.Backend, d.Kind, d.Name, trimSummary(d.Summary),
			d.Score, tags, deleted, at.UTC(),
		})
	}
	if err := x.ch.Insert(ctx, Table, rows); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "search: insert")
	}
	return nil
}

func trimSummary(s string) string {
	s = strings.TrimSpace(s)
	const n = 1024
	if len(s) > n {
		return s[:n]
	}
	return s
}
