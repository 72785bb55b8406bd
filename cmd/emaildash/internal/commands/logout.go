package commands

import (
	"context"
	"fmt"
)

// LogoutCmd ends the session on the backend and locally.
type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := globals.openSession("/logout")
	if err != nil {
		return err
	}
	defer s.Close()

	s.coord.Start()
	s.coord.Logout(ctx)

	fmt.Fprintln(globals.Stdout, "Logged out.")
	return nil
}
