package llm

import "strings"

// placeholderKeys are values shipped in sample env files; they never
// authenticate and are treated the same as no key at all.
var placeholderKeys = map[string]bool{
	"your_openai_api_key_here":    true,
	"your_anthropic_api_key_here": true,
	"your_api_key_here":           true,
	"sk-your-key-here":            true,
}

// IsUsableKey reports whether key can be sent to a provider.
func IsUsableKey(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && !placeholderKeys[strings.ToLower(key)]
}

// ResolveKey picks the key for one request: a usable request key first,
// then a usable environment key, otherwise "".
func ResolveKey(requestKey, envKey string) string {
	if IsUsableKey(requestKey) {
		return strings.TrimSpace(requestKey)
	}
	if IsUsableKey(envKey) {
		return strings.TrimSpace(envKey)
	}
	return ""
}

// Credentials carries the caller-supplied keys of one request.
type Credentials struct {
	OpenAIKey    string `json:"openaiApiKey,omitempty"`
	AnthropicKey string `json:"anthropicApiKey,omitempty"`
}

// For returns the request key for provider.
func (c Credentials) For(provider string) string {
	if provider == ProviderAnthropic {
		return c.AnthropicKey
	}
	return c.OpenAIKey
}
