package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/authstate"
	"golang.org/x/term"
)

// LoginCmd exchanges credentials for a session.
type LoginCmd struct {
	Identifier string `arg:"" help:"Email address"`
	Secret     string `help:"Password (prompted when omitted)" env:"EMAILDASH_SECRET"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	secret := c.Secret
	if secret == "" {
		var err error
		secret, err = readSecret(globals)
		if err != nil {
			return err
		}
	}

	s, err := globals.openSession(authstate.LoginPath)
	if err != nil {
		return err
	}
	defer s.Close()

	s.coord.Start()
	res := s.coord.Login(ctx, c.Identifier, secret)
	if !res.Success {
		return errors.New(res.Message)
	}

	fmt.Fprintf(globals.Stdout, "Logged in as %s <%s>\n", res.User.DisplayName(), res.User.Email)
	return nil
}

// readSecret prompts without echo on a terminal and reads one line
// otherwise.
func readSecret(globals *Globals) (string, error) {
	if f, ok := globals.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(globals.Stderr, "Password: ")
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(globals.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(globals.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
