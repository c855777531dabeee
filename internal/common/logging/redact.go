package logging

import (
	"regexp"
	"strings"
)

// Redacted replaces any value considered secret.
const Redacted = "***REDACTED***"

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)Authorization:\s*Bearer\s+[\w\-\.~+/]+=*`), "Authorization: Bearer " + Redacted},
	{regexp.MustCompile(`(?i)Bearer\s+[\w\-\.~+/]+=*`), "Bearer " + Redacted},
	{regexp.MustCompile(`(?i)(client_secret|api_key|password|secret|access_token|refresh_token)([\s=:"]+)[\w\-\.~+/]+`), "${1}${2}" + Redacted},
}

var secretKeys = map[string]struct{}{
	"client_secret": {},
	"secret":        {},
	"password":      {},
	"api_key":       {},
	"access_token":  {},
	"refresh_token": {},
	"token":         {},
	"authorization": {},
}

// IsSecretKey reports whether a field with this key is always redacted
func IsSecretKey(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

// RedactString masks bearer tokens and key=value secrets embedded in s
func RedactString(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// RedactValue returns value with secrets removed. Secret keys are replaced
// wholesale, strings and errors are pattern-scrubbed, maps are walked.
func RedactValue(key string, value interface{}) interface{} {
	if IsSecretKey(key) {
		return Redacted
	}

	switch v := value.(type) {
	case string:
		return RedactString(v)
	case error:
		if v == nil {
			return nil
		}
		return RedactString(v.Error())
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if IsSecretKey(k) {
				out[k] = Redacted
			} else {
				out[k] = RedactString(val)
			}
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = RedactValue(k, val)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = RedactString(s)
		}
		return out
	default:
		return value
	}
}
