package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Recognized error categories get templated guidance instead of the raw
// provider message. Anything that looks like serialized JSON is re-serialized
// pretty-printed; everything else passes through verbatim.

var reauthTokens = []string{
	"unauthorized",
	"re-authenticate",
	"reauthenticate",
	"login required",
	"session expired",
	"invalid api key",
}

var challengeTokens = []string{
	"security challenge",
	"captcha",
	"verification required",
	"cloudflare",
}

const reauthGuidance = "The provider rejected the request because the session is no longer valid.\n" +
	"Sign in to the provider again, then retry this question.\n" +
	"Your conversation so far is preserved."

const challengeGuidance = "The provider is asking for a security verification before it will answer.\n" +
	"Open the provider in a browser tab, complete the verification, then retry.\n" +
	"Your conversation so far is preserved."

// FormatError maps a raw error string to its display form.
func FormatError(raw string) string {
	lowered := strings.ToLower(raw)

	for _, token := range reauthTokens {
		if strings.Contains(lowered, token) {
			return reauthGuidance
		}
	}
	for _, token := range challengeTokens {
		if strings.Contains(lowered, token) {
			return challengeGuidance
		}
	}

	if pretty, ok := prettyJSON(raw); ok {
		return pretty
	}

	return raw
}

// prettyJSON re-indents a string that parses as a JSON object or array.
// Bare JSON scalars are not worth reformatting.
func prettyJSON(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return "", false
	}
	if !json.Valid([]byte(trimmed)) {
		return "", false
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}
