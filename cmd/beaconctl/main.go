package main

import "github.com/sunbeamfin/beacon/cmd/beaconctl/cmd"

func main() {
	cmd.Execute()
}
