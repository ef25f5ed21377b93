// identity.go: Rate limit subject derivation
package ratelimit

// apiKeyPrefixLen bounds how much of an API key lands in shared-store keys
// and logs. Truncation is intentional: never store full secrets.
const apiKeyPrefixLen = 10

// Identity derives the rate limit subject for a request with strict priority:
// authenticated user, then API key prefix, then client IP. Exactly one form is
// chosen, never combined. Always returns a non-empty string.
func Identity(req Request) string {
	if req.UserID != "" {
		return "user:" + req.UserID
	}
	if req.APIKey != "" {
		key := req.APIKey
		if len(key) > apiKeyPrefixLen {
			key = key[:apiKeyPrefixLen]
		}
		return "api_key:" + key
	}
	if req.ClientAddress != "" {
		return "ip:" + req.ClientAddress
	}
	return "unknown"
}
