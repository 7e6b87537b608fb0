// SPDX-License-Identifier: MPL-2.0

// Package melon models managed units: their identity as read from an
// embedded manifest, and the per-unit policy document (UnitConfig) that
// controls whether and how a unit is updated.
package melon
