package main

import "github.com/romclass/cmd/romc/cmd"

func main() {
	cmd.Execute()
}
