// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the melonup command tree: check, extensions, config
// and version.
package cmd
