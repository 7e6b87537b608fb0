// SPDX-License-Identifier: MPL-2.0

// Package binfmt recognizes unit binaries (ELF, PE, Mach-O), reads the
// identity manifest embedded in their metadata section, and rewrites that
// manifest in place when the installer repairs stale metadata.
//
// The manifest is a TOML document stored in a section named ".melon"
// (ELF, PE) or "__melon" (Mach-O). Builds reserve slack in the section by
// padding with NUL bytes so patched manifests can grow a little.
package binfmt
