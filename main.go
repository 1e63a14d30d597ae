package main

import "coinwatcher/internal/cli"

func main() {
	cli.Execute()
}
