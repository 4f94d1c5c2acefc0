package topic

import "strings"

const sharePrefix = "$share/"

// Match reports whether name is covered by filter. A shared subscription
// filter ($share/{group}/...) is matched on the part after the group.
func Match(filter, name string) bool {
	filter = Unshare(filter)
	for {
		f, fRest, fMore := strings.Cut(filter, "/")
		if f == MultiWildcard {
			return true
		}
		n, nRest, nMore := strings.Cut(name, "/")
		if f != Wildcard && f != n {
			return false
		}
		if !fMore || !nMore {
			// Both must run out together; "a/#" also matches "a".
			return fMore == nMore || (fMore && fRest == MultiWildcard)
		}
		filter, name = fRest, nRest
	}
}

// Unshare strips the $share/{group}/ prefix of a shared subscription.
func Unshare(filter string) string {
	rest, ok := strings.CutPrefix(filter, sharePrefix)
	if !ok {
		return filter
	}
	if _, f, ok := strings.Cut(rest, "/"); ok {
		return f
	}
	return filter
}
