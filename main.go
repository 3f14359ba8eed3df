package main

import "github.com/killallgit/tokenstream/cmd"

func main() {
	cmd.Execute()
}
