// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	"slices"
	"strings"
)

// NewRegistry indexes capabilities by their lower-cased protocol token. A later capability replaces an earlier one with the same token.
func NewRegistry(capabilities ...Capability) *Registry {
	r := &Registry{capabilities: make(map[string]Capability, len(capabilities))}
	for _, capability := range capabilities {
		r.capabilities[strings.ToLower(capability.Protocol())] = capability
	}

	return r
}

func (r *Registry) Lookup(protocol string) (Capability, bool) {
	capability, found := r.capabilities[strings.ToLower(protocol)]

	return capability, found
}

func (r *Registry) Protocols() []string {
	protocols := make([]string, 0, len(r.capabilities))
	for protocol := range r.capabilities {
		protocols = append(protocols, protocol)
	}
	slices.Sort(protocols)

	return protocols
}
