package main

import (
	"polyswarm/internal/cli"
)

func main() {
	cli.Execute()
}
