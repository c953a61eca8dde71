package main

import "go-easm/cli"

func main() {
	cli.Execute()
}
