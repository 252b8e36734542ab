// keypoolctl prepares data for the key pool: codec keys, sealed secret
// references for the credential catalog, and user tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"llm_keypool/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "keypoolctl",
	Short:         "Operator tooling for the LLM credential key pool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(generateKeyCmd, sealCmd, openCmd, tokenCmd)
	_ = config.LoadDotEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
