// Package urlutil centralizes the URL policy shared by the crawler and the
// testers: normalization, the same-origin follow predicate and seed
// validation.
package urlutil

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	ErrEmptyURL    = errors.New("empty url")
	ErrNotAbsolute = errors.New("url is not absolute")
	ErrBadScheme   = errors.New("scheme must be http or https")
	ErrBadHostname = errors.New("hostname must contain a registrable domain")
	ErrMissingHost = errors.New("missing host")
)

// Schemes that are never crawlable or checkable.
var skippedSchemes = map[string]struct{}{
	"mailto": {}, "tel": {}, "javascript": {}, "data": {}, "blob": {}, "file": {},
}

// Path extensions treated as downloads or media rather than pages.
var skippedExtensions = map[string]struct{}{
	"pdf": {}, "zip": {}, "tar": {}, "gz": {}, "rar": {}, "7z": {},
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "svg": {}, "webp": {}, "ico": {},
	"mp3": {}, "mp4": {}, "wav": {}, "avi": {}, "mov": {},
	"doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
	"exe": {}, "dmg": {}, "apk": {},
}

// Normalize strips the fragment and any trailing slash from the path while
// preserving the query string. The bare root collapses to no path at all, so
// "http://h/" and "http://h" normalize identically. Normalize is idempotent.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String(), nil
}

// SameHost reports whether two URLs share a host, case-insensitive and exact:
// a.example.com is not the same host as example.com.
func SameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

// Resolve resolves href against base and returns an absolute URL, or nil when
// href cannot produce one.
func Resolve(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	if !abs.IsAbs() {
		return nil
	}
	return abs
}

// SkippedScheme reports whether the scheme is one the crawler and the link
// tester never touch (mailto, tel, javascript, data, blob, file).
func SkippedScheme(scheme string) bool {
	_, ok := skippedSchemes[strings.ToLower(scheme)]
	return ok
}

// ShouldFollow is the crawl follow predicate: href, resolved against base,
// is followed iff it is absolute, http(s), host-exact with seed, not a
// download/media extension and not a skipped scheme. The returned string is
// the normalized absolute URL; visited-set filtering is the caller's job.
func ShouldFollow(seed, base *url.URL, href string) (string, bool) {
	abs := Resolve(base, href)
	if abs == nil {
		return "", false
	}
	if SkippedScheme(abs.Scheme) {
		return "", false
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !SameHost(seed, abs) {
		return "", false
	}
	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(abs.Path), ".")); ext != "" {
		if _, skip := skippedExtensions[ext]; skip {
			return "", false
		}
	}
	normalized, err := Normalize(abs.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// ValidateSeed checks a scan seed URL: absolute, http or https, and a
// hostname with at least two dot-separated labels where the TLD is two or
// more characters.
func ValidateSeed(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, ErrNotAbsolute
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrBadScheme
	}
	host := u.Hostname()
	if host == "" {
		return nil, ErrMissingHost
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return nil, ErrBadHostname
	}
	if tld := labels[len(labels)-1]; len(tld) < 2 {
		return nil, ErrBadHostname
	}
	for _, l := range labels {
		if l == "" {
			return nil, ErrBadHostname
		}
	}
	return u, nil
}
