// Package sanitize redacts credentials and key-shaped tokens from text
// before it reaches a caller or a log.
package sanitize

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Stats counts redactions performed by a single call.
type Stats struct {
	RedactedCount int
}

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[-_ ]?key|secret|token|password|passwd|pwd)\s*[:=]\s*['"]?([A-Za-z0-9_\-=\./+]{6,})['"]?`),
	regexp.MustCompile(`(?i)(authorization:\s*)?Bearer\s+[A-Za-z0-9_\-=\./+]{10,}`),
	regexp.MustCompile(`(?i)(x-amz-security-token|aws_secret_access_key|aws_access_key_id)\s*[:=]\s*[A-Za-z0-9/\+=]{8,}`),
	regexp.MustCompile(`(?i)(PRIVATE KEY-----[\s\S]+?-----END [A-Z ]+-----)`),
	// Vendor key shapes.
	regexp.MustCompile(`\bsk-(ant-|proj-)?[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}`),
	regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9\-]{10,}`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// JWT
	regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`),
	regexp.MustCompile(`([?&](key|api_key|access_token)=)[^&\s]+`),
}

// Redactor removes known secrets in addition to the pattern-based redaction.
type Redactor struct {
	secrets []string
}

// NewRedactor creates a redactor that also removes every non-empty secret
// verbatim, for example the configured provider credential.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if len(s) >= 4 {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// Redact returns s with credentials removed.
func (r *Redactor) Redact(s string) string {
	out, _ := r.RedactStats(s)
	return out
}

// RedactStats is Redact that also reports how many redactions were made.
func (r *Redactor) RedactStats(s string) (string, Stats) {
	stat := Stats{}
	if r != nil {
		for _, secret := range r.secrets {
			if n := strings.Count(s, secret); n > 0 {
				stat.RedactedCount += n
				s = strings.ReplaceAll(s, secret, redacted)
			}
		}
	}
	for _, re := range patterns {
		s = re.ReplaceAllStringFunc(s, func(string) string {
			stat.RedactedCount++
			return redacted
		})
	}

	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		if looksSensitive(ln) {
			lines[i] = "[REDACTED LINE]"
			stat.RedactedCount++
		}
	}
	return strings.Join(lines, "\n"), stat
}

// Redact applies pattern-based redaction only.
func Redact(s string) string {
	return (*Redactor)(nil).Redact(s)
}

func looksSensitive(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "secret=") ||
		strings.Contains(l, "password=") ||
		strings.Contains(l, "token=") ||
		strings.Contains(l, "api_key=") ||
		strings.Contains(l, "apikey=")
}
