package main

import "github.com/perennialfi/autopilot/cmd"

func main() {
	cmd.Execute()
}
