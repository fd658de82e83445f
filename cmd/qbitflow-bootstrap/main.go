package main

import (
	"github.com/qbitflow/bootstrap/pkg/cli"
)

func main() {
	cli.Execute()
}
