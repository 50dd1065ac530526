package schedule

import (
	"regexp"
	"strings"
)

// EventBridge Scheduler accepts [0-9a-zA-Z-_.] in schedule names and
// caps them at 64 characters.
const maxTriggerNameLength = 64

var disallowedRuns = regexp.MustCompile(`[^0-9a-zA-Z\-_.]+`)

// TriggerName derives the deterministic schedule name for a lease. Runs
// of disallowed characters collapse to a single separator so the name
// stays stable for a given input.
func TriggerName(prefix, leaseUUID string) string {
	name := disallowedRuns.ReplaceAllString(prefix+leaseUUID, "-")
	name = strings.Trim(name, "-")
	if len(name) > maxTriggerNameLength {
		name = name[:maxTriggerNameLength]
	}
	return name
}
