package logging

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactions strip provider credentials before an entry is written. Order
// matters: bearer tokens are masked before the Authorization header so the
// header rule never sees a raw token.
var redactions = []redaction{
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(authorization)(["']?\s*[:=]\s*["']?)[^\s"']+`), "${1}${2}[REDACTED]"},
	{regexp.MustCompile(`(access_token|refresh_token|id_token|client_secret|app_secret)(["']?\s*[:=]\s*["']?)[^\s"'&,]+`), "${1}${2}[REDACTED]"},
	{regexp.MustCompile(`(?i)(aws_secret_access_key|secretAccessKey|X-Amz-Signature|X-Amz-Security-Token)(["']?\s*[:=]\s*["']?)[^\s"'&,]+`), "${1}${2}[REDACTED]"},
	{regexp.MustCompile(`([?&]pass=)[^&\s"]+`), "${1}[REDACTED]"},
}

func redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}
