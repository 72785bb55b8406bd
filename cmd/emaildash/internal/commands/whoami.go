package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
)

// WhoamiCmd prints the cached user, optionally refreshed from the backend.
type WhoamiCmd struct {
	Refresh bool `help:"Refresh the profile from the backend first" default:"false"`
}

func (c *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := globals.openSession("/profile")
	if err != nil {
		return err
	}
	defer s.Close()

	s.coord.Start()
	if c.Refresh {
		if err := s.coord.RefreshProfile(ctx); err != nil {
			fmt.Fprintf(globals.Stderr, "Could not refresh profile, showing cached copy: %v\n", err)
		}
	}

	state := s.coord.State()
	if !state.IsAuthenticated {
		return errNotLoggedIn
	}

	printUser(globals.Stdout, state.User)
	return nil
}

func printUser(out io.Writer, user *models.UserProfile) {
	if user == nil {
		fmt.Fprintln(out, "Not logged in.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", user.DisplayName())
	fmt.Fprintf(w, "Email:\t%s\n", user.Email)
	fmt.Fprintf(w, "Role:\t%s\n", user.Role)
	if user.Department != "" {
		fmt.Fprintf(w, "Department:\t%s\n", user.Department)
	}
	if len(user.Permissions) > 0 {
		fmt.Fprintf(w, "Permissions:\t%s\n", strings.Join(user.Permissions, ", "))
	}
	w.Flush()
}
