package main

import "github.com/amplihack/claude-gateway/cmd"

func main() {
	cmd.Execute()
}
