package main

import "github.com/G1D0/webfront/cmd/webfront/cmd"

func main() {
	cmd.Execute()
}
