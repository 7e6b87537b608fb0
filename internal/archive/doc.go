// SPDX-License-Identifier: MPL-2.0

// Package archive unpacks downloaded release archives into a scratch tree and
// merges that tree into the host installation, honoring per-unit inclusion
// policy and routing unit binaries through the installer.
package archive
