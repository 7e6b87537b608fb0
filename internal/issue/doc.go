// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and the catalog of Markdown
// guidance the CLI renders when a run cannot proceed.
package issue
