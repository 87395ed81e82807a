package policy

import "strings"

const secretMask = "[REDACTED]"

var secretFlags = map[string]bool{
	"--api-key": true,
	"--token":   true,
}

// RedactArgs returns a copy of argv safe to log: values following secret
// flags, or attached with "=", are masked.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	maskNext := false
	for i, arg := range args {
		switch {
		case maskNext:
			out[i] = secretMask
			maskNext = false
		case secretFlags[arg]:
			out[i] = arg
			maskNext = true
		default:
			out[i] = arg
			if name, _, ok := strings.Cut(arg, "="); ok && secretFlags[name] {
				out[i] = name + "=" + secretMask
			}
		}
	}
	return out
}

// ScrubSecret replaces every occurrence of secret in s.
func ScrubSecret(s, secret string) string {
	if strings.TrimSpace(secret) == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, secretMask)
}
