// Package redact scrubs credential material from decoded log records.
//
// Every string leaf of every record passes through a Redactor before the
// record may enter an evidence layer, an annex file or a size measurement.
package redact

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Marker replaces every redacted secret.
const Marker = "***"

// ErrRedactionFailure is returned by Verify when a secret survived redaction.
var ErrRedactionFailure = errors.New("redaction failure: unmasked secret in output")

// rule is one value pattern. secret lists the submatch indexes that may
// hold the secret itself; the first one taking part in a match is replaced
// by the marker and the rest of the match is kept. 0 means the whole match.
type rule struct {
	name   string
	re     *regexp.Regexp
	secret []int
}

var defaultRules = []rule{
	{
		// The password runs to the last @ of the URL, so it may itself
		// contain @ or /. An @ later in the path is masked along with it.
		name:   "dsn",
		re:     regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mariadb|mongodb(?:\+srv)?|rediss?|amqps?|mssql|sqlserver|snowflake)://[^:/@\s]*:([^\s"']+)@`),
		secret: []int{1},
	},
	{
		// Quoted values are consumed up to the closing quote, spaces included.
		name:   "assignment",
		re:     regexp.MustCompile(`(?i)\b(?:[a-z0-9]+[_-])*(?:password|passwd|pwd|secret|api[_-]?key|apikey|access[_-]?key|private[_-]?key|token|auth)"?\s*[:=]\s*(?:"((?:[^"\\]|\\.)*)"|'([^']*)'|["']?([^\s"',;&}]+))`),
		secret: []int{1, 2, 3},
	},
	{
		name:   "bearer",
		re:     regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9\-._~+/]{8,}=*)`),
		secret: []int{1},
	},
	{
		name:   "basic-auth",
		re:     regexp.MustCompile(`\bBasic\s+([A-Za-z0-9+/]{8,}={0,2})`),
		secret: []int{1},
	},
	{
		name:   "provider-key",
		re:     regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_\-]{8,}|AKIA[0-9A-Z]{16}|gh[pousr]_[A-Za-z0-9]{20,}|xox[abprs]-[A-Za-z0-9\-]{10,})`),
		secret: []int{0},
	},
}

// span returns the bounds of the secret within match m, or ok=false when
// no secret group took part.
func (rl rule) span(m []int) (start, end int, ok bool) {
	for _, g := range rl.secret {
		if m[2*g] >= 0 {
			return m[2*g], m[2*g+1], true
		}
	}
	return 0, 0, false
}

// replace masks the secret of every match in s. Empty secrets are left
// alone.
func (rl rule) replace(s string) string {
	matches := rl.re.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end, ok := rl.span(m)
		if !ok || start == end {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(Marker)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// sensitiveKey matches mapping keys whose value is a secret in its own right.
var sensitiveKey = regexp.MustCompile(`(?i)^(?:[a-z0-9]+[_-])*(?:password|passwd|pwd|secret|token|api[_-]?key|apikey|private[_-]?key|access[_-]?key|credentials?|authorization|auth)$`)

// Redactor applies the pattern set. The zero value is not usable; use New.
type Redactor struct {
	rules []rule
}

// New returns a Redactor with the built-in patterns.
func New() *Redactor {
	return &Redactor{rules: defaultRules}
}

// String masks every secret found in s.
func (r *Redactor) String(s string) string {
	for _, rl := range r.rules {
		s = rl.replace(s)
	}
	return s
}

// IsSensitiveKey reports whether a mapping key names a secret.
func IsSensitiveKey(k string) bool {
	return sensitiveKey.MatchString(k)
}

// Value returns a redacted deep copy of a decoded JSON value. Strings are
// scrubbed by pattern; any non-empty value under a sensitive key is replaced
// wholesale, numbers and booleans included.
func (r *Redactor) Value(v any) any {
	switch t := v.(type) {
	case string:
		return r.String(t)
	case map[string]any:
		return r.Map(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.Value(e)
		}
		return out
	default:
		return v
	}
}

// Map returns a redacted copy of m. Keys are scrubbed like values; keys
// that collide once redacted resolve in sorted order of the originals.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	for _, k := range keys {
		v := m[k]
		rk := r.String(k)
		if IsSensitiveKey(k) && maskable(v) {
			out[rk] = Marker
			continue
		}
		out[rk] = r.Value(v)
	}
	return out
}

// maskable reports whether a value under a sensitive key still needs the
// marker. Only null, the empty string and the marker itself are left.
func maskable(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != "" && t != Marker
	default:
		return true
	}
}

// Verify walks a decoded document and fails with ErrRedactionFailure if any
// string still carries a secret the patterns would have masked, or if a
// sensitive key holds anything but the marker.
func (r *Redactor) Verify(doc any) error {
	return r.verify(doc, "$")
}

func (r *Redactor) verify(v any, path string) error {
	switch t := v.(type) {
	case string:
		if name, ok := r.leaks(t); ok {
			return fmt.Errorf("%w: %s pattern at %s", ErrRedactionFailure, name, path)
		}
	case map[string]any:
		for k, e := range t {
			if name, ok := r.leaks(k); ok {
				return fmt.Errorf("%w: %s pattern in key at %s", ErrRedactionFailure, name, path)
			}
			if IsSensitiveKey(k) && maskable(e) {
				return fmt.Errorf("%w: sensitive key at %s.%s", ErrRedactionFailure, path, k)
			}
			if err := r.verify(e, path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range t {
			if err := r.verify(e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// leaks reports the first rule with a match whose secret part is neither
// empty nor the marker.
func (r *Redactor) leaks(s string) (string, bool) {
	for _, rl := range r.rules {
		for _, m := range rl.re.FindAllStringSubmatchIndex(s, -1) {
			start, end, ok := rl.span(m)
			if ok && start != end && s[start:end] != Marker {
				return rl.name, true
			}
		}
	}
	return "", false
}
