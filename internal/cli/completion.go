package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// completionCmd generates shell completion scripts for regress.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for regress.

To install completions:

  Bash (Linux):
    regress completion bash | sudo tee /etc/bash_completion.d/regress > /dev/null

  Bash (macOS with Homebrew):
    regress completion bash > $(brew --prefix)/etc/bash_completion.d/regress

  Zsh:
    regress completion zsh > "${fpath[1]}/_regress"
    # or
    regress completion zsh > ~/.zsh/completions/_regress

  Fish:
    regress completion fish > ~/.config/fish/completions/regress.fish

  PowerShell:
    regress completion powershell > regress.ps1
    # Then add ". regress.ps1" to your PowerShell profile`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  usageArgs(cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs)),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(cmd.OutOrStdout(), true)
		case "zsh":
			return rootCmd.GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
