package main

import "github.com/feolivs/contabilidadepro-sub003/internal/cli"

func main() {
	cli.Execute()
}
