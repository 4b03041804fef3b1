package main

import "github.com/forPelevin/scriptreel/internal/cli"

func main() {
	cli.Main()
}
