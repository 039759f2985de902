package config

import (
	"os"
	"regexp"
)

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandEnv expands ${VAR} and ${VAR:-default} references against the
// process environment. Config parsing and substitution are an external
// collaborator to the core (see SPEC_FULL.md §2 AMBIENT STACK); this is
// the thin implementation cmd/sysg composes with before constructing a
// daemon.Daemon.
func ExpandEnv(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if v, ok := os.LookupEnv(parts[1]); ok {
			return v
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
