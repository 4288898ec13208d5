package main

import "github.com/larmkedjan/larmvakt/cmd/larmvakt-send/cmd"

func main() {
	cmd.Execute()
}
