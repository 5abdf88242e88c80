package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Values loaded from any config source may reference the environment three
// ways: ${VAR:-default}, ${VAR}, and bare $VAR. Expansion happens before
// unmarshaling so a substituted "8080" can still become an int.
var (
	reEnvDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	reEnvBraced  = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	reEnvBare    = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	// ${VAR:-default} first; the braced pattern would otherwise eat it.
	s = reEnvDefault.ReplaceAllStringFunc(s, func(match string) string {
		groups := reEnvDefault.FindStringSubmatch(match)
		if v := os.Getenv(groups[1]); v != "" {
			return v
		}
		return groups[2]
	})

	s = reEnvBraced.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(reEnvBraced.FindStringSubmatch(match)[1])
	})

	return reEnvBare.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(reEnvBare.FindStringSubmatch(match)[1])
	})
}

// coerceScalar re-types an expanded string so "true" and "8080" land in bool
// and int config fields.
func coerceScalar(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ExpandEnvVarsInData walks a decoded config tree and expands environment
// references in every string leaf.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return coerceScalar(expanded)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = ExpandEnvVarsInData(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ExpandEnvVarsInData(item)
		}
		return out
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env from the working directory.
// Missing files are fine; a file that exists but cannot be parsed is not.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
