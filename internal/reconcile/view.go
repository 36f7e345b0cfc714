package reconcile

import (
	"sort"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// Roster derives a session's roster from its links, sorted by name.
func Roster(links []persistence.Link) []string {
	names := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if _, ok := seen[link.NameSnapshot]; ok {
			continue
		}
		seen[link.NameSnapshot] = struct{}{}
		names = append(names, link.NameSnapshot)
	}
	sort.Strings(names)
	return names
}

// AttendanceMap derives the name to attendance map from a session's links.
// Pending links have no entry.
func AttendanceMap(links []persistence.Link) map[string]persistence.Attendance {
	out := make(map[string]persistence.Attendance, len(links))
	for _, link := range links {
		switch link.Attendance {
		case persistence.AttendancePresent, persistence.AttendanceAbsent:
			out[link.NameSnapshot] = link.Attendance
		}
	}
	return out
}
