package obs

import "strings"

// resourceRoots are collections whose second path segment is an entity id.
var resourceRoots = map[string]bool{
	"opportunities": true,
	"applications":  true,
	"matches":       true,
	"sessions":      true,
	"time-logs":     true,
	"goals":         true,
}

// actionSuffixes are transition endpoints hanging off an entity id.
var actionSuffixes = map[string]bool{
	"publish":    true,
	"close":      true,
	"archive":    true,
	"submit":     true,
	"review":     true,
	"shortlist":  true,
	"decide":     true,
	"withdraw":   true,
	"propose":    true,
	"accept":     true,
	"reject":     true,
	"start":      true,
	"complete":   true,
	"terminate":  true,
	"confirm":    true,
	"cancel":     true,
	"reschedule": true,
	"approve":    true,
	"progress":   true,
}

// CanonicalPath collapses entity ids so metric label cardinality stays bounded.
// "/v1/matches/01H.../accept" becomes "/v1/matches/:id/accept".
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || !resourceRoots[parts[1]] {
		return path
	}
	switch len(parts) {
	case 3:
		return "/v1/" + parts[1] + "/:id"
	case 4:
		if actionSuffixes[parts[3]] || resourceRoots[parts[3]] {
			return "/v1/" + parts[1] + "/:id/" + parts[3]
		}
	}
	return path
}
