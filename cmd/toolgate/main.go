package main

import "github.com/toolgate-dev/toolgate/cmd/toolgate/cmd"

func main() {
	cmd.Execute()
}
