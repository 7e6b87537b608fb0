// SPDX-License-Identifier: MPL-2.0

// Package config loads melonup's configuration: a CUE file validated against
// an embedded schema, merged into Viper over defaults and environment
// overrides.
//
// The file is looked up in the user configuration directory
// ($XDG_CONFIG_HOME/melonup/config.cue on Linux,
// ~/Library/Application Support/melonup/config.cue on macOS,
// %APPDATA%\melonup\config.cue on Windows), then as ./config.cue. A missing
// file is not an error.
package config
