// packwatch — per-workspace daemon that injects knowledge-pack context
// into agent sessions and gates shell commands through layered rules.
package main

import "github.com/pkondratev/packwatch/internal/cli"

func main() {
	cli.Execute()
}
