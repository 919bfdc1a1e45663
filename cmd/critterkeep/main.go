package main

import "github.com/vbonduro/critterkeep/internal/cli"

func main() {
	cli.Execute()
}
