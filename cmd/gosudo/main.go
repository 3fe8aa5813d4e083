package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opsentry/gosudo/internal/gosudo"
	"github.com/opsentry/gosudo/internal/policy"
	"github.com/opsentry/gosudo/internal/supervisor/pty"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var opts gosudo.Options

var (
	flagList       bool
	flagListLong   bool
	flagTimeoutSec int
)

var rootCmd = &cobra.Command{
	Use:     "gosudo [flags] -- command [args...]",
	Short:   "Run a command as another user, subject to the sudoers policy",
	Version: Version,
	// The historical single-dash-cluster tokenizer is not reproduced;
	// flags here are ordinary short/long flags and everything after
	// the first non-flag word (or --) is the command.
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts.Command = args
		if flagListLong {
			opts.List = gosudo.ListLong
		} else if flagList {
			opts.List = gosudo.ListShort
		}
		opts.Timeout = time.Duration(flagTimeoutSec) * time.Second

		code, err := gosudo.Run(context.Background(), opts, gosudo.DefaultDeps(opts))
		if err != nil {
			printFailure(err)
		}
		os.Exit(code)
		return nil
	},
}

// printFailure maps the typed errors the core returns onto the fixed
// user-facing messages of the error-handling design; anything
// unrecognized is printed as-is.
func printFailure(err error) {
	switch {
	case errors.Is(err, policy.ErrDenied):
		fmt.Fprintf(os.Stderr, "gosudo: %v\n", err)
	case errors.Is(err, gosudo.ErrAuthFailed):
		fmt.Fprintln(os.Stderr, "gosudo: a password is required and authentication failed")
	case errors.Is(err, gosudo.ErrAuthTransient):
		fmt.Fprintln(os.Stderr, "gosudo: the authentication service is unavailable, try again later")
	default:
		fmt.Fprintf(os.Stderr, "gosudo: %v\n", err)
	}
}

func init() {
	f := rootCmd.Flags()
	f.SetInterspersed(false)

	f.StringVarP(&opts.TargetUser, "user", "u", "", "run the command as this user")
	f.StringVarP(&opts.TargetGroup, "group", "g", "", "run the command with this primary group")
	f.BoolVarP(&opts.LoginShell, "login", "i", false, "run the target user's shell as a login shell")
	f.BoolVarP(&opts.ShellMode, "shell", "s", false, "run the command through $SHELL -c")
	f.StringSliceVarP(&opts.PreserveEnv, "preserve-env", "E", nil, "preserve these environment variables (subject to policy)")
	f.BoolVarP(&opts.SetHome, "set-home", "H", false, "set HOME to the target user's home directory")
	f.BoolVarP(&opts.NonInteractive, "non-interactive", "n", false, "fail rather than prompt")
	f.BoolVarP(&opts.StdinPassword, "stdin", "S", false, "read the password from standard input")
	f.StringVarP(&opts.Prompt, "prompt", "p", "", "use a custom password prompt")
	f.BoolVarP(&opts.Validate, "validate", "v", false, "authenticate without running a command")
	f.BoolVarP(&flagList, "list", "l", false, "list the invoker's permitted commands")
	f.BoolVar(&flagListLong, "list-long", false, "list permitted commands as full sudoers entries")
	f.StringVarP(&opts.Chdir, "chdir", "D", "", "change to this directory before running the command")
	f.IntVarP(&flagTimeoutSec, "command-timeout", "T", 0, "kill the command after this many seconds")
	// Long-only on purpose: a short -h would collide with --help.
	f.StringVar(&opts.Host, "host", "", "evaluate the policy for this host")
	f.StringVarP(&opts.OtherUser, "other-user", "U", "", "with --list, list this user's permissions")
	f.BoolVarP(&opts.Background, "background", "b", false, "run the command in the background")
	f.IntVarP(&opts.CloseFrom, "close-from", "C", 0, "close descriptors at or above this number before exec")
	f.StringVar(&opts.PolicyPath, "sudoers", "", "policy file to load (default /etc/sudoers)")

	f.Bool("help", false, "show this help")
}

func main() {
	if pty.IsMonitorReexec() {
		os.Exit(runMonitor())
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gosudo: %v\n", err)
		os.Exit(1)
	}
}
