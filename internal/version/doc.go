// SPDX-License-Identifier: MPL-2.0

// Package version parses and compares semantic versions declared by units,
// extensions, and upstream sources, and evaluates loader compatibility
// requirements.
package version
