// Package policy decides which model providers may receive protected health information.
package policy

import "strings"

// Locality says where a provider processes data.
type Locality string

const (
	// Local providers run inside the deployment boundary.
	Local Locality = "local"
	// External providers transmit document text to a third party.
	External Locality = "external"
)

var localities = map[string]Locality{
	"local":  Local,
	"llama":  Local,
	"ollama": Local,

	"external": External,
	"openai":   External,
	"gemini":   External,
}

// Classify returns the locality of a provider name. Unknown names are treated as external.
func Classify(provider string) Locality {
	if l, ok := localities[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return l
	}
	return External
}

// IsAllowed reports whether the pipeline may send a job to provider.
// External providers need both the deployment-wide flag and the job's consent.
func IsAllowed(provider string, allowExternal, consentGiven bool) bool {
	if Classify(provider) == Local {
		return true
	}
	return allowExternal && consentGiven
}
