// SPDX-License-Identifier: ice License 1.0

package terror

type (
	// Err is an error enriched with structured data describing where and why it happened.
	Err struct {
		error
		Data map[string]any `json:"data"`
	}
)
