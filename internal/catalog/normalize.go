package catalog

import "strings"

// DefaultSearchCap bounds how many normalized results a search yields.
const DefaultSearchCap = 15

// Result is the uniform shape search results are reduced to.
type Result struct {
	WorkID        string `json:"work_id"`
	CoverID       int64  `json:"cover_id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	FirstSentence string `json:"first_sentence,omitempty"`
}

// Normalize filters raw search docs down to at most max qualifying
// results, preserving their order. A doc qualifies only when it carries a
// cover id, at least one author and at least one ISBN; anything else is
// skipped without error. First entries win when the upstream lists
// several authors or ISBNs.
func Normalize(docs []SearchDoc, max int) []Result {
	results := make([]Result, 0, max)
	for _, doc := range docs {
		if len(results) >= max {
			break
		}
		if doc.CoverID == nil || len(doc.AuthorNames) == 0 || len(doc.ISBNs) == 0 {
			continue
		}
		r := Result{
			WorkID:  workIDFromKey(doc.Key),
			CoverID: *doc.CoverID,
			Title:   doc.Title,
			Author:  doc.AuthorNames[0],
			ISBN:    doc.ISBNs[0],
		}
		if len(doc.FirstSentence) > 0 {
			r.FirstSentence = doc.FirstSentence[0]
		}
		results = append(results, r)
	}
	return results
}

// workIDFromKey takes the last path segment of the upstream's opaque work
// key, e.g. /works/OL893415W -> OL893415W.
func workIDFromKey(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
