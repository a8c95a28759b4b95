package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra/doc"

	"github.com/arthur-debert/keg/cmd/keg"
	"github.com/arthur-debert/keg/internal/version"
)

func main() {
	rootCmd := keg.NewRootCmd()

	header := &doc.GenManHeader{
		Title:   "KEG",
		Section: "1",
		Source:  "keg " + version.Version,
		Manual:  "keg manual",
	}

	if err := doc.GenMan(rootCmd, header, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating man page: %v\n", err)
		os.Exit(1)
	}
}
