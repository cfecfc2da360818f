// SPDX-License-Identifier: MPL-2.0

package main

import cmd "codeden-cli/cmd/codeden"

func main() {
	cmd.Execute()
}
