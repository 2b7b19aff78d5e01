package main

import "github.com/yeti47/cryovault/client/vaultctl/cmd"

func main() {
	cmd.Execute()
}
