package remote

import "strings"

// MapPriority converts a human priority level into the remote (impact, urgency) pair.
// Matching is case-insensitive; anything unrecognized maps to the lowest pair.
func MapPriority(priority string) (impact, urgency int) {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "critical":
		return 1, 1
	case "high":
		return 1, 2
	case "medium":
		return 2, 2
	default:
		return 2, 3
	}
}
