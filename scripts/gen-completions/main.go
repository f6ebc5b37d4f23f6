// Command gen-completions writes regress shell completion scripts for bash,
// zsh, fish and PowerShell into an output directory so release archives can
// ship them.
//
// Usage:
//
//	go run ./scripts/gen-completions [output-dir]
//
// The default output directory is "completions".
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/cli"
)

type completion struct {
	file     string
	generate func(*cobra.Command, io.Writer) error
}

var completions = []completion{
	{"regress.bash", func(c *cobra.Command, w io.Writer) error { return c.GenBashCompletionV2(w, true) }},
	{"_regress", func(c *cobra.Command, w io.Writer) error { return c.GenZshCompletion(w) }},
	{"regress.fish", func(c *cobra.Command, w io.Writer) error { return c.GenFishCompletion(w, true) }},
	{"regress.ps1", func(c *cobra.Command, w io.Writer) error { return c.GenPowerShellCompletionWithDesc(w) }},
}

func main() {
	outDir := "completions"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := run(outDir); err != nil {
		fmt.Fprintln(os.Stderr, "gen-completions:", err)
		os.Exit(1)
	}
}

func run(outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}

	root := cli.NewRootCmd()
	for _, c := range completions {
		path := filepath.Join(outDir, c.file)
		if err := write(path, root, c.generate); err != nil {
			return err
		}
		fmt.Println("wrote", path)
	}
	return nil
}

func write(path string, root *cobra.Command, generate func(*cobra.Command, io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := generate(root, f); err != nil {
		f.Close()
		return fmt.Errorf("generating %s: %w", path, err)
	}
	return f.Close()
}
