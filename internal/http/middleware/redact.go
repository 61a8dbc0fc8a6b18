package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Patterns are applied in this order: UUIDs first so the phone pattern does
// not eat the digit groups of an id.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs are never matched.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures what the access logger scrubs and emits.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]"; matching is case-insensitive and merged with Authorization,
// Cookie and Set-Cookie. Request headers are only logged when LogHeaders is
// set.
type RedactOptions struct {
	MaskHeaders []string
	LogHeaders  bool
}

// redactor scrubs emails, phone numbers and UUIDs from free text and masks
// sensitive headers. Signup traffic carries addresses in query strings
// (?email=...), so nothing user-supplied reaches the logs unscrubbed.
type redactor struct {
	mask map[string]struct{}
}

func newRedactor(extra []string) *redactor {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &redactor{mask: mask}
}

func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// query redacts a raw query string after percent-decoding it, so encoded
// addresses (a%40b.com) are caught too.
func (r *redactor) query(raw string) string {
	if dec, err := url.QueryUnescape(raw); err == nil {
		raw = dec
	}
	return r.text(raw)
}

func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}
