package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/activity"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/sessionstore"
)

// StatusCmd prints the local session record. It only reads, so it never
// counts as activity.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := globals.openStore()
	if err != nil {
		return err
	}

	printStatus(globals.Stdout, globals.Profile, store.Snapshot(), time.Now())
	return nil
}

// idleState classifies a record the way the idle monitor would at now.
func idleState(rec sessionstore.Record, now time.Time) string {
	if !rec.HasSession() {
		return "logged out"
	}
	if rec.LastActivityAt.IsZero() {
		return "idle timeout reached"
	}

	idle := now.Sub(rec.LastActivityAt)
	switch {
	case idle >= activity.SessionTimeout:
		return "idle timeout reached"
	case activity.SessionTimeout-idle <= activity.WarningLead:
		return "expiring soon"
	default:
		return "active"
	}
}

func printStatus(out io.Writer, profile string, rec sessionstore.Record, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Profile:\t%s\n", profile)
	fmt.Fprintf(w, "State:\t%s\n", idleState(rec, now))
	if !rec.HasSession() {
		return
	}

	fmt.Fprintf(w, "User:\t%s <%s>\n", rec.CachedUser.DisplayName(), rec.CachedUser.Email)
	if !rec.SessionStartAt.IsZero() {
		fmt.Fprintf(w, "Session started:\t%s\n", rec.SessionStartAt.Format(time.RFC3339))
	}
	if rec.LastActivityAt.IsZero() {
		return
	}

	idle := now.Sub(rec.LastActivityAt).Truncate(time.Second)
	fmt.Fprintf(w, "Last activity:\t%s\n", rec.LastActivityAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Idle:\t%s\n", idle)
	fmt.Fprintf(w, "Expires at:\t%s\n", rec.LastActivityAt.Add(activity.SessionTimeout).Format(time.RFC3339))
	fmt.Fprintf(w, "Warning shown:\t%t\n", rec.WarningAcknowledged)
}
