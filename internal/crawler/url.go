package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// normalizeExtensions are stripped from the final path segment so that page
// URLs collapse onto their directory form. Checked in order, first match
// wins.
var normalizeExtensions = []string{
	".html", ".htm", ".php", ".jsp", ".asp", ".aspx",
	".py", ".js", ".css", ".json", ".xml",
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".tar", ".gz", ".rar",
	".mp4", ".mp3", ".avi", ".mov", ".wmv",
	".woff", ".woff2", ".ttf", ".eot",
}

// blockedExtensions mark a path segment as a file rather than a directory.
var blockedExtensions = map[string]struct{}{
	"html": {}, "htm": {}, "php": {}, "jsp": {}, "asp": {}, "aspx": {},
	"py": {}, "js": {}, "css": {},
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {},
	"pdf": {}, "doc": {}, "docx": {},
	"zip": {}, "tar": {}, "gz": {},
}

// sensitiveSegments are path segments that lead into account, commerce, or
// machine endpoints a directory crawl must not touch.
var sensitiveSegments = map[string]struct{}{
	"search": {}, "login": {}, "register": {}, "signin": {}, "signup": {},
	"sign-in": {}, "sign-up": {},
	"cart": {}, "checkout": {}, "payment": {}, "billing": {},
	"admin": {}, "wp-admin": {}, "administrator": {}, "dashboard": {},
	"api": {}, "feed": {}, "rss": {}, "atom": {},
	"logout": {}, "log-out": {}, "signout": {}, "sign-out": {},
	"profile": {}, "account": {}, "settings": {}, "preferences": {},
}

// Domain extracts the lowercase host (including any port) used as the
// frontier and rate-limit key.
func Domain(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return host, nil
}

// NormalizeDirectory canonicalizes raw into directory form: lowercase scheme
// and host, default ports removed, query and fragment dropped, a known file
// extension stripped from the last segment, and a single trailing slash.
// The result is a fixed point: normalizing it again returns it unchanged.
func NormalizeDirectory(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q has unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return normalizeParsed(u), nil
}

func normalizeParsed(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""

	path := u.EscapedPath()
	lower := strings.ToLower(path)
	for _, ext := range normalizeExtensions {
		if strings.HasSuffix(lower, ext) {
			path = path[:len(path)-len(ext)]
			break
		}
	}
	if path == "" || path == "/" {
		path = "/"
	} else if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.RawPath = ""
	u.Path = path
	return u.String()
}

// ResolveDirectory resolves href against base and canonicalizes the result.
// It reports ok=false for unparseable links, non-http(s) schemes, and hosts
// other than base's.
func ResolveDirectory(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(abs.Host, base.Host) {
		return "", false
	}
	return normalizeParsed(abs), true
}

// IsValidDirectory reports whether a normalized URL is worth exploring. The
// seed itself is always valid; anything whose last segment looks like a file
// or whose path crosses a sensitive segment is not.
func IsValidDirectory(normalized, seed string) bool {
	if strings.TrimRight(normalized, "/") == strings.TrimRight(seed, "/") {
		return true
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		lower := strings.ToLower(segment)
		if _, sensitive := sensitiveSegments[lower]; sensitive {
			return false
		}
		if i == len(segments)-1 {
			if dot := strings.LastIndex(lower, "."); dot >= 0 {
				ext := lower[dot+1:]
				if _, blocked := blockedExtensions[ext]; blocked && len(ext) <= 4 {
					return false
				}
			}
		}
	}
	return true
}
