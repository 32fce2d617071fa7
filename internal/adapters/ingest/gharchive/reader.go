package gharchive

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
)

const (
	baseURLDefault   = "https://data.gharchive.org"
	defaultTimeout   = 2 * time.Minute
	maxScanTokenSize = 32 * 1024 * 1024
)

// Fetcher fetches a reader for a given hour
type Fetcher interface {
	Fetch(ctx context.Context, hour HourRef) (io.ReadCloser, error)
}

// HTTPFetcher fetches directly from gharchive.org
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTPFetcher creates a new HTTPFetcher; empty base and zero timeout use defaults
func NewHTTPFetcher(base string, timeout time.Duration) *HTTPFetcher {
	if base == "" {
		base = baseURLDefault
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, BaseURL: strings.TrimRight(base, "/")}
}

// Fetch returns a reader for the gzip file for the given hour
func (f *HTTPFetcher) Fetch(ctx context.Context, hour HourRef) (io.ReadCloser, error) {
	url := f.BaseURL + "/" + hour.String() + ".json.gz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "gharchive: build request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gharchive: fetch %s", hour)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, perr.NotFoundf("gharchive: hour %s is not published", hour)
	default:
		_ = resp.Body.Close()
		return nil, perr.Unavailablef("gharchive: unexpected status %d for %s", resp.StatusCode, url)
	}
}

// Reader decodes one archive hour, a gzip of newline separated events
type Reader struct {
	body    io.ReadCloser
	gz      *gzip.Reader
	lines   *bufio.Scanner
	done    error
	events  int
	skipped int
}

// NewReader takes ownership of body and closes it on failure
func NewReader(body io.ReadCloser) (*Reader, error) {
	gz, err := gzip.NewReader(body)
	if err != nil {
		_ = body.Close()
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "gharchive: not a gzip stream")
	}
	lines := bufio.NewScanner(gz)
	lines.Buffer(make([]byte, 0, 512<<10), maxScanTokenSize)
	return &Reader{body: body, gz: gz, lines: lines}, nil
}

// Next returns the next decodable event and io.EOF after the last one.
// Undecodable lines are counted and passed over.
func (rd *Reader) Next() (EventEnvelope, error) {
	for rd.done == nil {
		if !rd.lines.Scan() {
			rd.done = io.EOF
			if err := rd.lines.Err(); err != nil {
				rd.done = perr.Wrapf(err, perr.ErrorCodeUnavailable, "gharchive: read")
			}
			break
		}
		var ev EventEnvelope
		if json.Unmarshal(rd.lines.Bytes(), &ev) != nil {
			rd.skipped++
			continue
		}
		rd.events++
		return ev, nil
	}
	return EventEnvelope{}, rd.done
}

func (rd *Reader) Close() error {
	return errors.Join(rd.gz.Close(), rd.body.Close())
}

// Stats counts decoded events and skipped lines so far
func (rd *Reader) Stats() (events, skipped int) { return rd.events, rd.skipped }

// Source lists the distinct entities active in archive hours
type Source struct {
	f Fetcher
}

// NewSource builds a Source over f
func NewSource(f Fetcher) *Source { return &Source{f: f} }

// Entities reads one hour and returns its distinct entity keys in first-seen order with the event count
func (s *Source) Entities(ctx context.Context, hour time.Time) ([]entitykey.Key, int, error) {
	ref := NewHourRef(hour)
	body, err := s.f.Fetch(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	rd, err := NewReader(body)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rd.Close() }()

	seen := map[entitykey.Key]struct{}{}
	var keys []entitykey.Key
	for {
		if err := ctx.Err(); err != nil {
			return keys, rd.events, err
		}
		ev, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return keys, rd.events, err
		}
		for _, k := range ev.Keys() {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	events, skipped := rd.Stats()
	logger.C(ctx).Debug().Str("hour", ref.String()).Int("events", events).Int("skipped", skipped).Int("entities", len(keys)).Msg("gharchive hour read")
	return keys, events, nil
}
