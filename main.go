package main

import "github.com/endorses/pktmunch/cmd"

func main() {
	cmd.Execute()
}
