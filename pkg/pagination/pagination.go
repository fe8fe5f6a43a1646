package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination and ordering parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
	Sort   string
	Desc   bool
}

// FromContext reads limit, offset and sort from the query string. A sort key
// with a leading "-" is descending. Keys not in allowed are ignored.
func FromContext(c echo.Context, allowed ...string) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	p := Params{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(c.QueryParam("sort")); raw != "" {
		field := strings.TrimPrefix(raw, "-")
		for _, a := range allowed {
			if a == field {
				p.Sort = field
				p.Desc = strings.HasPrefix(raw, "-")
				break
			}
		}
	}
	return p
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// WithLinks attaches navigation links built from basePath.
func (r *Response) WithLinks(basePath string, p Params) *Response {
	r.Links = p.Links(basePath, r.Total)
	return r
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// OrderBy maps the sort key onto a column through columns and falls back to
// def. The result is safe to splice into SQL because only mapped names are
// ever emitted.
func (p Params) OrderBy(columns map[string]string, def string) string {
	col, ok := columns[p.Sort]
	if !ok {
		return def
	}
	if p.Desc {
		return col + " DESC"
	}
	return col + " ASC"
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

func (p Params) sortQuery() string {
	if p.Sort == "" {
		return ""
	}
	if p.Desc {
		return "&sort=-" + p.Sort
	}
	return "&sort=" + p.Sort
}

// Links generates self/next/previous links for a list result.
func (p Params) Links(basePath string, total int) []Link {
	links := []Link{
		{Relation: "self", URL: fmt.Sprintf("%s?offset=%d&limit=%d%s", basePath, p.Offset, p.Limit, p.sortQuery())},
	}
	if p.HasNext(total) {
		links = append(links, Link{
			Relation: "next",
			URL:      fmt.Sprintf("%s?offset=%d&limit=%d%s", basePath, p.NextOffset(), p.Limit, p.sortQuery()),
		})
	}
	if p.HasPrevious() {
		links = append(links, Link{
			Relation: "previous",
			URL:      fmt.Sprintf("%s?offset=%d&limit=%d%s", basePath, p.PreviousOffset(), p.Limit, p.sortQuery()),
		})
	}
	return links
}

type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
