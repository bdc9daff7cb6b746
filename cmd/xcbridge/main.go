// Command xcbridge is the tool-bridge continuation engine's serving
// process: the local HTTP proxy Xcode's Messages requests talk to.
package main

import "github.com/xcbridge/xcbridge/internal/cmd"

func main() {
	cmd.Execute()
}
