package main

import "github.com/oshokin/fleet-commander/cmd/fleet-receiver/cmd"

func main() {
	cmd.Execute()
}
