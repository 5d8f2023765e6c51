// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	"strings"

	"github.com/ice-blockchain/httpupgrade/http1"
)

// Negotiate walks the Upgrade candidates in the order the client listed them and returns the first one that builds its response.
// Candidates that fail to build are reported in failures, which can be non-empty even when a decision is made.
func Negotiate(registry *Registry, req *http1.RequestHead) (decision *Decision, failures []error) {
	candidates := req.Headers.CanonicalValues("Upgrade")
	if len(candidates) == 0 {
		return nil, nil
	}
	present := make(map[string]struct{}, req.Headers.Len())
	for _, name := range req.Headers.Names() {
		present[name] = struct{}{}
	}
	connectionTokens := req.Headers.Tokens("Connection")
	for _, candidate := range candidates {
		capability, found := registry.Lookup(candidate)
		if !found || !hasRequiredHeaders(capability.RequiredHeaders(), present, connectionTokens) {
			continue
		}
		protocol := capability.Protocol()
		proposed := http1.NewHeaders("connection", "upgrade", "upgrade", protocol)
		headers, err := capability.BuildResponseHeaders(req, proposed)
		if err != nil {
			failures = append(failures, &kindError{kind: ErrCandidateBuildFailure, cause: err, detail: protocol})

			continue
		}

		return &Decision{Capability: capability, Headers: headers, Protocol: protocol}, failures
	}

	return nil, failures
}

func hasRequiredHeaders(required []string, present, connectionTokens map[string]struct{}) bool {
	for _, name := range required {
		name = strings.ToLower(name)
		if _, found := present[name]; !found {
			return false
		}
		if _, found := connectionTokens[name]; !found {
			return false
		}
	}

	return true
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.detail + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind //nolint:errorlint // Comparing the sentinel itself.
}

func (e *kindError) Unwrap() error {
	return e.cause
}
