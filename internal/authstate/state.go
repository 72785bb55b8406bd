package authstate

import (
	"fmt"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
)

// User-facing messages.
const (
	MsgSessionExpired = "Your session has expired due to inactivity. Please log in again."
	MsgNetworkFailure = "Unable to reach the server. Please try again."
	MsgLoginFailed    = "Login failed"
)

// WarningMessage is shown while the idle warning is active.
func WarningMessage(minutesLeft int) string {
	unit := "minutes"
	if minutesLeft == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Your session will expire in %d %s due to inactivity.", minutesLeft, unit)
}

// Phase is the coordinator's position in the session lifecycle.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseUnauthenticated
	PhaseAuthenticated
	PhaseWarning
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseWarning:
		return "warning"
	case PhaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// SessionWarning drives the two notifications: the extendable idle banner
// and the blocking expired overlay.
type SessionWarning struct {
	Show        bool
	MinutesLeft int // zero when Expired
	Expired     bool
	Message     string
}

// State is what the rest of the application sees.
type State struct {
	User            *models.UserProfile
	IsAuthenticated bool
	IsLoading       bool
	SessionWarning  *SessionWarning
}

// Phase derives the lifecycle phase from the exposed fields.
func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseInitializing
	case s.SessionWarning != nil && s.SessionWarning.Expired:
		return PhaseExpired
	case s.User == nil:
		return PhaseUnauthenticated
	case s.SessionWarning != nil:
		return PhaseWarning
	default:
		return PhaseAuthenticated
	}
}

func (s State) clone() State {
	out := State{
		User:            s.User.Clone(),
		IsAuthenticated: s.IsAuthenticated,
		IsLoading:       s.IsLoading,
	}
	if s.SessionWarning != nil {
		w := *s.SessionWarning
		out.SessionWarning = &w
	}
	return out
}

// LoginResult is the outcome of Coordinator.Login. Message is set when
// Success is false.
type LoginResult struct {
	Success bool
	User    *models.UserProfile
	Message string
}
