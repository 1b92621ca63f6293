package gateway

import (
	"log/slog"
	"regexp"
)

// scrubPattern pairs a compiled regex with its redaction replacement,
// mirroring the teacher's masking.CompiledPattern shape (name, regex,
// replacement) but fixed for the gateway's narrower job: catching secrets
// that leak into a response body rather than an MCP payload.
type scrubPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinScrubPatterns catches the shapes spec §4.8 names explicitly:
// provider API key prefixes, AWS access key IDs, bearer tokens, and
// password= assignments.
var builtinScrubPatterns = []scrubPattern{
	{
		name:        "openai-style-key",
		regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		replacement: "[REDACTED-API-KEY]",
	},
	{
		name:        "anthropic-style-key",
		regex:       regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`),
		replacement: "[REDACTED-API-KEY]",
	},
	{
		name:        "aws-access-key-id",
		regex:       regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`),
		replacement: "[REDACTED-AWS-KEY]",
	},
	{
		name:        "bearer-token",
		regex:       regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._-]{10,}\b`),
		replacement: "Bearer [REDACTED-TOKEN]",
	},
	{
		name:        "password-assignment",
		regex:       regexp.MustCompile(`(?i)\bpassword\s*=\s*\S+`),
		replacement: "password=[REDACTED]",
	},
}

// promptLeakMarkers are phrases that suggest a response accidentally
// surfaced system-prompt content rather than an answer to the user. They
// are not redacted (doing so would hide the leak from whoever reviews
// logs) — only logged.
var promptLeakMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you are (an? )?(ai )?assistant named`),
	regexp.MustCompile(`(?i)\bsystem prompt\b`),
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior) instructions`),
}

// scrub applies every built-in pattern to body, returning the redacted
// text. It also runs the prompt-leak detector and logs (but does not
// redact) any match.
func scrub(body string, jobID string) string {
	for _, p := range builtinScrubPatterns {
		body = p.regex.ReplaceAllString(body, p.replacement)
	}
	for _, marker := range promptLeakMarkers {
		if marker.MatchString(body) {
			slog.Warn("gateway: possible system-prompt leakage in response body", "jobId", jobID, "pattern", marker.String())
		}
	}
	return body
}
