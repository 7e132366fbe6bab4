package deps

import "strings"

// Status reports the availability of one external dependency. Command holds
// the resolved binary or device path the check looked at.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Missing lists required dependencies that are unavailable, formatted as
// "name (detail)" for log lines and summaries.
func Missing(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if s.Available || s.Optional {
			continue
		}
		entry := s.Name
		if detail := strings.TrimSpace(s.Detail); detail != "" {
			entry += " (" + detail + ")"
		}
		missing = append(missing, entry)
	}
	return missing
}
