// Command gen-manpages generates reference documentation for regress and all
// of its subcommands with cobra's doc package: section 1 man pages by
// default, or Markdown with -markdown.
//
// Usage:
//
//	go run ./scripts/gen-manpages [-markdown] [output-dir]
//
// The default output directory is "man/man1" (or "docs/cli" for Markdown).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra/doc"
	"github.com/spf13/pflag"

	"github.com/AbdelazizMoustafa10m/regress/internal/cli"
)

func main() {
	markdown := pflag.Bool("markdown", false, "Write Markdown instead of man pages")
	pflag.Parse()

	outDir := "man/man1"
	if *markdown {
		outDir = "docs/cli"
	}
	if pflag.NArg() > 0 {
		outDir = pflag.Arg(0)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir %q: %v\n", outDir, err)
		os.Exit(1)
	}

	root := cli.NewRootCmd()
	root.DisableAutoGenTag = true

	var err error
	if *markdown {
		err = doc.GenMarkdownTree(root, outDir)
	} else {
		err = doc.GenManTree(root, &doc.GenManHeader{
			Title:   "REGRESS",
			Section: "1",
			Source:  "regress",
			Manual:  "regress manual",
		}, outDir)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating docs: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Docs generated in %s/\n", outDir)
}
