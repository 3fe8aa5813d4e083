package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opsentry/gosudo/internal/gosudo"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var opts gosudo.Options

var rootCmd = &cobra.Command{
	Use:     "gosudoedit [flags] file...",
	Short:   "Edit files with privileges granted by the sudoers policy",
	Version: Version,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		code, err := gosudo.RunEdit(context.Background(), opts, gosudo.DefaultDeps(opts), args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gosudoedit: %v\n", err)
		}
		os.Exit(code)
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.SetInterspersed(false)
	f.StringVarP(&opts.TargetUser, "user", "u", "", "edit the files as this user")
	f.BoolVarP(&opts.NonInteractive, "non-interactive", "n", false, "fail rather than prompt")
	f.BoolVarP(&opts.StdinPassword, "stdin", "S", false, "read the password from standard input")
	f.StringVarP(&opts.Prompt, "prompt", "p", "", "use a custom password prompt")
	f.StringVar(&opts.Host, "host", "", "evaluate the policy for this host")
	f.StringVar(&opts.PolicyPath, "sudoers", "", "policy file to load (default /etc/sudoers)")
	f.Bool("help", false, "show this help")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gosudoedit: %v\n", err)
		os.Exit(1)
	}
}
