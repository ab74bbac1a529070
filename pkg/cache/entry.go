package cache

import (
	"net/http"
	"time"
)

// DefaultTTL applies when a response has no usable Expires header.
const DefaultTTL = 24 * time.Hour

// Entry is a stored page body and the validators it was served with.
type Entry struct {
	Body []byte
	ETag string
	// LastModified is the raw header value, echoed back in If-Modified-Since.
	LastModified string
	StoredAt     time.Time
}

// NewEntry captures a successful response. It returns nil when the
// response carries neither ETag nor Last-Modified: such a body can never
// be revalidated.
func NewEntry(h http.Header, body []byte, now time.Time) *Entry {
	etag := h.Get("ETag")
	lastModified := h.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return nil
	}
	return &Entry{
		Body:         body,
		ETag:         etag,
		LastModified: lastModified,
		StoredAt:     now,
	}
}

// Conditional adds If-None-Match, or If-Modified-Since when only
// Last-Modified is known, and reports whether a header was set.
func (e *Entry) Conditional(req *http.Request) bool {
	switch {
	case e == nil || req == nil:
		return false
	case e.ETag != "":
		req.Header.Set("If-None-Match", e.ETag)
		return true
	case e.LastModified != "":
		req.Header.Set("If-Modified-Since", e.LastModified)
		return true
	}
	return false
}

// Expiry returns the Expires time of a response, or now + DefaultTTL when
// the header is missing, malformed or not in the future. Entries are only
// used after revalidation, so outliving Expires is harmless.
func Expiry(h http.Header, now time.Time) time.Time {
	if v := h.Get("Expires"); v != "" {
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t
		}
	}
	return now.Add(DefaultTTL)
}
