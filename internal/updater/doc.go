// SPDX-License-Identifier: MPL-2.0

// Package updater drives one update run over a host installation.
//
// For every binary in the Mods and Plugins directories it reads the unit's
// identity and policy, gates on loader compatibility, asks the registered
// source extensions for the latest release (first success wins), compares
// versions and, in automatic mode, downloads and installs the release.
// Processing is strictly sequential. No failure in one unit aborts the
// directory scan, and every file replacement goes through the backup store.
package updater
