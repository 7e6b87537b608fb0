// SPDX-License-Identifier: MPL-2.0

// Package extension defines the pluggable capabilities of the updater
// (searching upstream sources and installing file types the core does not
// understand) and the Registry that loads, validates, deduplicates, and
// isolates them.
//
// Extensions declare capabilities by implementing small interfaces:
// Searchable, BruteCheckable, Installable, and optionally Initializer and
// UnitPreparer. The Registry calls them only through guarded wrappers so a
// panic or fault inside one extension rots that extension and nothing else.
package extension
