package index

import "strings"

// splitPath turns a virtual path like "/Album/01.flac" into its ordered
// components ["Album", "01.flac"]. Paths are always forward-slash
// separated regardless of host OS, since they describe the mounted
// virtual tree rather than a local filesystem path (spec.md §1: "case-
// insensitive path matching" is a Non-goal, but slash-separation is not
// OS-dependent either way).
func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// joinPath is the inverse of splitPath.
func joinPath(parts []string) string {
	return "/" + strings.Join(parts, "/")
}
