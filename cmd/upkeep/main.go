package main

import "upkeep/internal/cli"

func main() {
	cli.Main()
}
