package main

import "github.com/wipac/lta/cmd/ltaworkerd/cmd"

func main() {
	cmd.Execute()
}
