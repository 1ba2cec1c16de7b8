// Package pagination pages FHIR search results with _count and _offset.
package pagination

import (
	"net/url"
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a search query.
type Params struct {
	Limit  int
	Offset int
}

// FromValues reads _count and _offset. Missing or invalid values fall back
// to the defaults and _count is capped at MaxLimit.
func FromValues(q url.Values) Params {
	limit, _ := strconv.Atoi(q.Get("_count"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(q.Get("_offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Window returns the slice bounds of the current page within total items.
func (p Params) Window(total int) (start, end int) {
	start = p.Offset
	if start > total {
		start = total
	}
	end = start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset < total-p.Limit
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset is only meaningful when HasNext reports true.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is a single Bundle link entry.
type Link struct {
	Relation string
	URL      string
}

// Links builds self, next and previous links for basePath. Search filters
// in query are carried onto every link.
func (p Params) Links(basePath string, query url.Values, total int) []Link {
	links := []Link{{Relation: "self", URL: p.pageURL(basePath, query, p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: p.pageURL(basePath, query, p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: p.pageURL(basePath, query, p.PreviousOffset())})
	}
	return links
}

func (p Params) pageURL(basePath string, query url.Values, offset int) string {
	q := url.Values{}
	for k, v := range query {
		if k == "_count" || k == "_offset" {
			continue
		}
		q[k] = v
	}
	q.Set("_count", strconv.Itoa(p.Limit))
	q.Set("_offset", strconv.Itoa(offset))
	return basePath + "?" + q.Encode()
}
