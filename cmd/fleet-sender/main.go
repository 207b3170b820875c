package main

import "github.com/oshokin/fleet-commander/cmd/fleet-sender/cmd"

func main() {
	cmd.Execute()
}
