package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/activity"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/authstate"
)

const shellHelp = `Commands:
  get <path>   fetch an API path
  whoami       show the current user
  refresh      refresh the profile from the backend
  status       show the session phase and idle time
  extend       stay signed in
  logout       log out and leave
  quit         leave the shell
`

// ShellCmd keeps a session open, treating every input line as activity and
// printing the idle warning and expiry notices as they happen.
type ShellCmd struct{}

func (c *ShellCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := globals.openSession("/")
	if err != nil {
		return err
	}
	defer s.Close()

	s.coord.Start()
	if !s.coord.State().IsAuthenticated {
		return errNotLoggedIn
	}

	return s.shell(ctx, globals.Stdin, globals.Stdout)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *session) shell(ctx context.Context, in io.Reader, w io.Writer) error {
	out := &syncWriter{w: w}

	expired := make(chan struct{}, 1)
	unsubscribe := s.coord.Subscribe(func(st authstate.State) {
		switch st.Phase() {
		case authstate.PhaseWarning:
			fmt.Fprintf(out, "\n! %s Type 'extend' to stay signed in.\n", st.SessionWarning.Message)
		case authstate.PhaseExpired:
			fmt.Fprintf(out, "\n%s\n", st.SessionWarning.Message)
			select {
			case expired <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	fmt.Fprintf(out, "Signed in as %s. Type 'help' for commands.\n", s.coord.State().User.DisplayName())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			s.endExpired(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			// Expiry may land while a line is waiting.
			if !s.coord.State().IsAuthenticated {
				s.endExpired(out)
				return nil
			}
			s.events.Emit(activity.KeyDown)

			if quit := s.exec(ctx, out, strings.Fields(line)); quit {
				return nil
			}
			if !s.coord.State().IsAuthenticated {
				return nil
			}
		}
	}
}

func (s *session) endExpired(out io.Writer) {
	if s.coord.State().Phase() != authstate.PhaseExpired {
		return
	}
	s.coord.AcknowledgeExpiry()
	fmt.Fprintln(out, "Run 'emaildash login <email>' to sign in again.")
}

func (s *session) exec(ctx context.Context, out io.Writer, args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "help":
		fmt.Fprint(out, shellHelp)
	case "quit", "exit":
		return true
	case "extend":
		s.coord.ExtendSession()
		fmt.Fprintln(out, "Session extended.")
	case "whoami":
		printUser(out, s.coord.State().User)
	case "refresh":
		if err := s.coord.RefreshProfile(ctx); err != nil {
			fmt.Fprintf(out, "Refresh failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "Profile refreshed.")
	case "status":
		st := s.coord.State()
		fmt.Fprintf(out, "Phase: %s\n", st.Phase())
		if idle, ok := s.store.TimeSinceLastActivity(time.Now()); ok {
			fmt.Fprintf(out, "Idle: %s\n", idle.Truncate(time.Second))
		}
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(out, "usage: get <path>")
			return false
		}
		if err := s.fetch(ctx, args[1], out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case "logout":
		s.coord.Logout(ctx)
		fmt.Fprintln(out, "Logged out.")
		return true
	default:
		fmt.Fprintf(out, "Unknown command %q, type 'help'.\n", args[0])
	}
	return false
}
