package main

import "github.com/sstent/stravasync/cmd"

func main() {
	cmd.Execute()
}
