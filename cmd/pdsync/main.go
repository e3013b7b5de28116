package main

import (
	"github.com/dl-alexandre/pdsync/internal/cli"
)

func main() {
	_ = cli.Execute()
}
