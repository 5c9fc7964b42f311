package main

import "github.com/nimbusdb/corekit/cmd"

func main() {
	cmd.Execute()
}
