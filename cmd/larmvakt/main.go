package main

import "github.com/larmkedjan/larmvakt/cmd/larmvakt/cmd"

func main() {
	cmd.Execute()
}
