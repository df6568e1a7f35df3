package invariant

import (
	"encoding/json"
	"math"
	"path/filepath"
	"regexp"
	"strings"
)

// codeInjectionPatterns flag dynamic-execution primitives appearing in
// any string field of the payload.
var codeInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\bcompile\s*\(`),
	regexp.MustCompile(`__import__\s*\(`),
}

// shellMetaPattern matches metacharacters that change command structure.
// Quoted contexts are not excluded here; payload fields are data, not
// shell scripts, so metacharacters are suspicious wherever they appear
// in a sink-bound argument.
var shellMetaPattern = regexp.MustCompile("[;&|`$><]|\\$\\(")

// shellSinkKeys are parameter names whose values reach shell-exec sinks.
var shellSinkKeys = map[string]struct{}{
	"command": {}, "cmd": {}, "shell": {}, "args": {}, "script": {},
}

// pathKeyFragments mark parameters interpreted as filesystem paths.
var pathKeyFragments = []string{"path", "file", "dir", "dest", "src"}

// protectedPrefixes are never accessible through payload path fields.
var protectedPrefixes = []string{
	"/etc/", "/sys/", "/proc/", "/root/", "/boot/", "/dev/", "~/.ssh", ".env",
}

// secretShapePatterns catch well-known credential formats.
var secretShapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                  // AWS access key ID
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), // PEM private key
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),         // GitHub tokens
}

// NoCodeInjection rejects payloads whose string fields contain dynamic
// execution primitives.
func NoCodeInjection(payload map[string]interface{}) bool {
	for _, s := range collectStrings(payload, nil) {
		for _, p := range codeInjectionPatterns {
			if p.MatchString(s.value) {
				return false
			}
		}
	}
	return true
}

// NoShellInjection rejects metacharacters in parameters bound for
// shell-exec sinks.
func NoShellInjection(payload map[string]interface{}) bool {
	for _, s := range collectStrings(payload, nil) {
		if _, sink := shellSinkKeys[strings.ToLower(s.key)]; !sink {
			continue
		}
		if shellMetaPattern.MatchString(s.value) {
			return false
		}
	}
	return true
}

// NoProtectedPathAccess rejects path-shaped parameters that resolve
// under a protected prefix. Symlinks are resolved so an indirection
// through /tmp cannot reach /etc.
func NoProtectedPathAccess(payload map[string]interface{}) bool {
	for _, s := range collectStrings(payload, nil) {
		if !isPathKey(s.key) {
			continue
		}
		resolved := resolvePath(s.value)
		for _, prefix := range protectedPrefixes {
			if strings.HasPrefix(resolved, prefix) || strings.HasPrefix(s.value, prefix) {
				return false
			}
		}
	}
	return true
}

// NoHardcodedSecrets rejects payloads carrying credential-shaped or
// high-entropy token strings.
func NoHardcodedSecrets(payload map[string]interface{}) bool {
	for _, s := range collectStrings(payload, nil) {
		for _, p := range secretShapePatterns {
			if p.MatchString(s.value) {
				return false
			}
		}
		if looksLikeEntropySecret(s.value) {
			return false
		}
	}
	return true
}

// MaxOperationSize caps the serialized payload size.
func MaxOperationSize(maxBytes int) Predicate {
	return func(payload map[string]interface{}) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			// Unserializable payloads cannot be audited; treat as violation.
			return false
		}
		return len(data) <= maxBytes
	}
}

// --- helpers ---

type keyedString struct {
	key   string
	value string
}

func collectStrings(m map[string]interface{}, acc []keyedString) []keyedString {
	for k, v := range m {
		switch t := v.(type) {
		case string:
			acc = append(acc, keyedString{key: k, value: t})
		case map[string]interface{}:
			acc = collectStrings(t, acc)
		case []interface{}:
			for _, item := range t {
				if s, ok := item.(string); ok {
					acc = append(acc, keyedString{key: k, value: s})
				} else if nested, ok := item.(map[string]interface{}); ok {
					acc = collectStrings(nested, acc)
				}
			}
		}
	}
	return acc
}

func isPathKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range pathKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// resolvePath cleans the path and follows symlinks when the target
// exists. A nonexistent path is checked as written.
func resolvePath(path string) string {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved
	}
	return clean
}

const (
	entropyMinLength = 20
	entropyThreshold = 4.5
)

// looksLikeEntropySecret flags long strings whose Shannon entropy
// suggests random key material rather than natural text.
func looksLikeEntropySecret(s string) bool {
	if len(s) < entropyMinLength {
		return false
	}
	// Paths and sentences have separators; raw tokens do not.
	if strings.ContainsAny(s, " /\n\t") {
		return false
	}
	return shannonEntropy(s) >= entropyThreshold
}

func shannonEntropy(s string) float64 {
	freq := make(map[rune]float64)
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	var entropy float64
	for _, count := range freq {
		p := count / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
