package orchestrator

import "regexp"

// deferredActionPatterns catch a fast-path reply that smuggles an intent to
// act later, outside the plan that was actually validated: phrasing that
// defers a tool-using action past the point this job's result is returned,
// or that asks the assistant to suppress mentioning what it is about to do.
// Spec §8 scenario 6 requires rerouting these to the full path rather than
// letting them complete as an unvalidated "fast" reply.
var deferredActionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(after|once)\s+(this|the)\s+(conversation|response|reply)\s+(ends|is sent|completes)\b`),
	regexp.MustCompile(`(?i)\bnext time\b.*\b(run|execute|delete|send|call)\b`),
	regexp.MustCompile(`(?i)\bwithout (telling|notifying|alerting)\s+(the user|anyone)\b`),
	regexp.MustCompile(`(?i)\bdo(n't| not) (mention|log|record) (this|that)\b`),
	regexp.MustCompile(`(?i)\bwait until\b.*\b(no one|nobody|unmonitored|off)\b`),
	regexp.MustCompile(`(?i)\bignore (previous|prior|earlier) instructions\b`),
}

// isDeferredAction reports whether text matches a known deferred-action
// pattern.
func isDeferredAction(text string) bool {
	for _, p := range deferredActionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
