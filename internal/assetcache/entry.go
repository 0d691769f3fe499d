package assetcache

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Purpose is the logical category of a store. Each purpose has an independent
// lifecycle and at most one current generation.
type Purpose string

const (
	PurposeShell   Purpose = "shell"
	PurposeImage   Purpose = "image"
	PurposeDynamic Purpose = "dynamic"
	PurposeVideo   Purpose = "video"
)

// Purposes lists every purpose in a stable order.
var Purposes = []Purpose{PurposeShell, PurposeImage, PurposeDynamic, PurposeVideo}

// ParsePurpose validates s as a known purpose.
func ParsePurpose(s string) (Purpose, error) {
	for _, p := range Purposes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown purpose %q", s)
}

// StoreName identifies one durable store: (purpose, generation) under a
// deployment prefix. Its string form is "<prefix>-<purpose>-<generation>".
type StoreName struct {
	Prefix     string
	Purpose    Purpose
	Generation string
}

func (n StoreName) String() string {
	return n.Prefix + "-" + string(n.Purpose) + "-" + n.Generation
}

// ParseStoreName is the inverse of StoreName.String. The prefix may contain
// dashes; purpose and generation may not.
func ParseStoreName(s string) (StoreName, error) {
	genIdx := strings.LastIndex(s, "-")
	if genIdx <= 0 || genIdx == len(s)-1 {
		return StoreName{}, fmt.Errorf("malformed store name %q", s)
	}
	rest := s[:genIdx]
	purposeIdx := strings.LastIndex(rest, "-")
	if purposeIdx <= 0 {
		return StoreName{}, fmt.Errorf("malformed store name %q", s)
	}
	p, err := ParsePurpose(rest[purposeIdx+1:])
	if err != nil {
		return StoreName{}, fmt.Errorf("malformed store name %q: %w", s, err)
	}
	return StoreName{Prefix: rest[:purposeIdx], Purpose: p, Generation: s[genIdx+1:]}, nil
}

// Entry is a stored response. Its content is opaque to the policy layer.
type Entry struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"-"`
	StoredAt   time.Time   `json:"storedAt"`
}

// Size is the payload size accounted against store quotas.
func (e *Entry) Size() int64 {
	if e == nil {
		return 0
	}
	return int64(len(e.Body))
}

// OK reports a 2xx status.
func (e *Entry) OK() bool {
	return e != nil && e.StatusCode >= 200 && e.StatusCode < 300
}

// Clone deep-copies the entry so callers never share header maps or bodies
// with a backend.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Header = e.Header.Clone()
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return &out
}

var errRelativeKey = errors.New("cache key must be an absolute URL")

// NormalizeKey turns raw into the exact-match cache key: scheme, host, path
// and query, without fragment.
func NormalizeKey(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse cache key: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", errRelativeKey, raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
