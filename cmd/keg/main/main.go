package main

import (
	"os"

	"github.com/arthur-debert/keg/cmd/keg"
)

func main() {
	os.Exit(keg.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
