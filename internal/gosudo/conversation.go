package gosudo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"

	"github.com/opsentry/gosudo/internal/authenticator"
)

// NewConversation builds the conversation the authenticator uses to
// reach the user: the controlling TTY normally, stdin in -S mode, or
// the SUDO_ASKPASS helper when no terminal is available. Info and
// Error messages always go to stderr.
func NewConversation(opts Options, getenv func(string) string) authenticator.Conversation {
	return func(msg authenticator.Message) (authenticator.Reply, error) {
		switch msg.Kind {
		case authenticator.Info:
			fmt.Fprintln(os.Stderr, msg.Text)
			return authenticator.Reply{}, nil
		case authenticator.ErrorMsg:
			fmt.Fprintln(os.Stderr, msg.Text)
			return authenticator.Reply{}, nil
		case authenticator.PromptNoEcho:
			return promptNoEcho(opts, getenv, promptText(opts, msg))
		case authenticator.PromptEcho:
			return promptEcho(opts, promptText(opts, msg))
		default:
			return authenticator.Reply{}, fmt.Errorf("unknown conversation message kind %d", msg.Kind)
		}
	}
}

func promptText(opts Options, msg authenticator.Message) string {
	if opts.Prompt != "" {
		return opts.Prompt
	}
	return msg.Text
}

func promptNoEcho(opts Options, getenv func(string) string, prompt string) (authenticator.Reply, error) {
	if opts.StdinPassword {
		return readLineFrom(os.Stdin, prompt)
	}
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err == nil {
		defer tty.Close()
		fmt.Fprint(tty, prompt)
		secret, rerr := term.ReadPassword(int(tty.Fd()))
		fmt.Fprintln(tty)
		if rerr != nil {
			return authenticator.Reply{}, rerr
		}
		return authenticator.Reply{Text: string(secret)}, nil
	}
	if askpass := getenv("SUDO_ASKPASS"); askpass != "" {
		out, aerr := exec.Command(askpass, prompt).Output()
		if aerr != nil {
			return authenticator.Reply{}, fmt.Errorf("askpass helper: %w", aerr)
		}
		return authenticator.Reply{Text: strings.TrimRight(string(out), "\n")}, nil
	}
	return authenticator.Reply{}, errors.New("no terminal available to read the password from")
}

func promptEcho(opts Options, prompt string) (authenticator.Reply, error) {
	if opts.StdinPassword {
		return readLineFrom(os.Stdin, prompt)
	}
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return authenticator.Reply{}, errors.New("no terminal available to read input from")
	}
	defer tty.Close()
	fmt.Fprint(tty, prompt)
	return readLineFrom(tty, "")
}

func readLineFrom(f *os.File, prompt string) (authenticator.Reply, error) {
	if prompt != "" {
		fmt.Fprint(os.Stderr, prompt)
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return authenticator.Reply{}, err
	}
	return authenticator.Reply{Text: strings.TrimRight(line, "\n")}, nil
}
