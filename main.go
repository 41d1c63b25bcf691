package main

import "github.com/bookbridge/bookbridge/cmd"

func main() {
	cmd.Execute()
}
