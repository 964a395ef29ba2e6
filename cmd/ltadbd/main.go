package main

import "github.com/wipac/lta/cmd/ltadbd/cmd"

func main() {
	cmd.Execute()
}
