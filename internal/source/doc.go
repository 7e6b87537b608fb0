// SPDX-License-Identifier: MPL-2.0

// Package source implements the built-in upstream lookups: GitHub
// releases, the Thunderstore package index, Nexus Mods, and S3 release
// mirrors. Each source is an extension.Searchable with its own rate-limit
// circuit breaker; while a breaker is open the source answers "no result"
// without touching the network.
package source
