// SPDX-License-Identifier: MPL-2.0

// Command melonup keeps the mods and plugins of a MelonLoader installation
// up to date.
package main

import cmd "github.com/melonup/melonup/cmd/melonup"

func main() {
	cmd.Execute()
}
