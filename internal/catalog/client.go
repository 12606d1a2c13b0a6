// Package catalog talks to the Open Library HTTP API and reshapes its
// records into the uniform result the rest of the app works with.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/config"
)

type IDKind string

const (
	KindISBN IDKind = "ISBN"
	KindOLID IDKind = "OLID"
)

type (
	// SearchDoc is one raw record from the search endpoint. Fields the
	// upstream omits stay zero; the normalizer decides what qualifies.
	SearchDoc struct {
		Key           string   `json:"key"`
		Title         string   `json:"title"`
		CoverID       *int64   `json:"cover_i"`
		AuthorNames   []string `json:"author_name"`
		ISBNs         []string `json:"isbn"`
		FirstSentence []string `json:"first_sentence"`
	}

	searchResponse struct {
		Docs []SearchDoc `json:"docs"`
	}

	// BookInfo is the single-record lookup result used when a book is
	// first persisted.
	BookInfo struct {
		Title        string
		Author       string
		CoverImageID string
	}

	lookupRecord struct {
		Title       string `json:"title"`
		ByStatement string `json:"by_statement"`
		Authors     []struct {
			Name string `json:"name"`
		} `json:"authors"`
		Cover struct {
			Small  string `json:"small"`
			Medium string `json:"medium"`
			Large  string `json:"large"`
		} `json:"cover"`
	}

	Client struct {
		http    *resty.Client
		baseURL string
	}
)

func NewClient(cfg *config.Config) *Client {
	http := resty.New().
		SetTimeout(time.Duration(cfg.CatalogTimeoutSeconds) * time.Second).
		SetRetryCount(cfg.CatalogRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		http:    http,
		baseURL: strings.TrimRight(cfg.CatalogBaseURL, "/"),
	}
}

// SearchByTitle runs a free-text title search and returns the raw result
// list. Capping and filtering is the caller's job (see Normalize).
func (c *Client) SearchByTitle(ctx context.Context, query string) ([]SearchDoc, error) {
	result := searchResponse{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("title", query).
		SetResult(&result).
		Get(c.baseURL + "/search.json")
	if err != nil {
		return nil, errors.Wrap(apperr.ErrUpstreamUnavailable, err.Error())
	}
	if !resp.IsSuccess() {
		return nil, errors.Wrapf(apperr.ErrUpstreamUnavailable, "catalog search returned %d", resp.StatusCode())
	}
	return result.Docs, nil
}

// LookupByIdentifier fetches a single record by ISBN or OLID. The books
// endpoint answers with a map keyed "<KIND>:<id>"; an empty map means the
// catalog has no entry for that identifier.
func (c *Client) LookupByIdentifier(ctx context.Context, id string, kind IDKind) (BookInfo, error) {
	bibkey := string(kind) + ":" + id

	result := map[string]lookupRecord{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"bibkeys": bibkey,
			"format":  "json",
			"jscmd":   "data",
		}).
		SetResult(&result).
		Get(c.baseURL + "/api/books")
	if err != nil {
		return BookInfo{}, errors.Wrap(apperr.ErrUpstreamUnavailable, err.Error())
	}
	if !resp.IsSuccess() {
		return BookInfo{}, errors.Wrapf(apperr.ErrUpstreamUnavailable, "catalog lookup returned %d", resp.StatusCode())
	}

	record, ok := result[bibkey]
	if !ok {
		return BookInfo{}, errors.Wrapf(apperr.ErrNotFound, "no catalog entry for %s", bibkey)
	}

	return BookInfo{
		Title:        record.Title,
		Author:       authorOf(record),
		CoverImageID: coverIDFromURL(record.Cover.Medium),
	}, nil
}

// authorOf prefers the combined by_statement when the record has one,
// otherwise falls back to the first listed author.
func authorOf(r lookupRecord) string {
	if r.ByStatement != "" {
		return r.ByStatement
	}
	if len(r.Authors) > 0 {
		return r.Authors[0].Name
	}
	return ""
}

// coverIDFromURL extracts the numeric cover id from a covers URL, e.g.
// https://covers.openlibrary.org/b/id/135182-M.jpg -> 135182.
func coverIDFromURL(u string) string {
	if u == "" {
		return ""
	}
	base := u
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	return base
}
