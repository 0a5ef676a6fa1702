package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. The root command runs the full
// sampler; subcommands cover stage 1 alone and the example catalogs.
func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	root := &cobra.Command{
		Use:   "automix",
		Short: "Adaptive reversible jump MCMC sampling",
		Long: `automix samples across a collection of candidate models with
reversible jump MCMC. Among other features:

  - Per-model normal mixture proposals fitted from adaptive random walk runs
  - Burn in with adaptation of proposal scales, mixtures and jump weights
  - Independence, random walk and between-model jump moves
  - AutoMix style data files, a yaml run summary and an optional SQLite store
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := newStartup(cmd, f)
			if err != nil {
				return err
			}
			return RunSampler(sp)
		},
	}
	addFlags(root, f)

	root.AddCommand(&cobra.Command{
		Use:   "fit",
		Short: "Run stage 1 only and write <fname>_mix.data",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := newStartup(cmd, f)
			if err != nil {
				return err
			}
			return FitOnly(sp)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "examples",
		Short: "List the built in model catalogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ListExamples(cmd.OutOrStdout())
		},
	})

	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
