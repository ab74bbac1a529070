package client

import (
	"bytes"
	"encoding/json"
)

// Project is one upstream project record. The client never interprets
// record fields, so records are kept as raw JSON and forwarded verbatim.
type Project = json.RawMessage

// PageRequest describes a single page of the projects listing.
type PageRequest struct {
	// Status filters by project status (e.g. "Completed"). Empty means no filter.
	Status string

	// Page is the 1-based page index.
	Page int

	// PerPage is the number of records requested.
	PerPage int

	// SortBy and SortDirection are forwarded to the server unchanged.
	SortBy        string
	SortDirection string
}

// PageMeta is the optional pagination block of a page response.
type PageMeta struct {
	Total       *int `json:"total,omitempty"`
	CurrentPage *int `json:"currentPage,omitempty"`
	LastPage    *int `json:"lastPage,omitempty"`
}

// UnmarshalJSON accepts a meta object and treats JSON values that carry no
// pagination (null, false, 0, "" and the empty array PHP emits for an
// empty map) as an empty PageMeta.
func (m *PageMeta) UnmarshalJSON(b []byte) error {
	switch string(bytes.Join(bytes.Fields(b), nil)) {
	case "null", "false", "0", `""`, "[]":
		*m = PageMeta{}
		return nil
	}

	type plain PageMeta
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = PageMeta(p)
	return nil
}

// Present reports whether the server sent any usable pagination metadata.
// A missing or empty meta object means the page size heuristic applies.
func (m *PageMeta) Present() bool {
	return m != nil && (m.Total != nil || m.CurrentPage != nil || m.LastPage != nil)
}

// PageResponse is the decoded body of one projects page.
type PageResponse struct {
	Data []Project `json:"data"`
	Meta *PageMeta `json:"meta,omitempty"`
}
