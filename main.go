package main

import "cadence/cmd"

func main() {
	cmd.Run()
}
