package config

import (
	"os"
	"regexp"
	"strings"
)

// ${NAME} or ${NAME:-fallback}
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// expandEnv replaces ${NAME} references with environment values. A
// reference with a fallback uses it when NAME is unset or empty; a bare
// reference to an unset variable is left in place so validation can
// report the literal text.
func expandEnv(content []byte) []byte {
	return envRef.ReplaceAllFunc(content, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		name, fallback := string(m[1]), string(m[2])

		value, ok := os.LookupEnv(name)
		if fallback != "" {
			if value == "" {
				return []byte(strings.TrimPrefix(fallback, ":-"))
			}
			return []byte(value)
		}
		if !ok {
			return ref
		}
		return []byte(value)
	})
}
