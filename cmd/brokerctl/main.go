package main

import "github.com/nfrund/brokerlink/cmd/brokerctl/cmd"

func main() {
	cmd.Execute()
}
