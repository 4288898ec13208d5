package main

import "github.com/larmkedjan/larmvakt/cmd/larmvakt-history/cmd"

func main() {
	cmd.Execute()
}
