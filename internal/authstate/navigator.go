package authstate

import "strings"

// Navigator exposes the current navigation target and the forced redirect
// to the login entry point.
type Navigator interface {
	CurrentPath() string
	RedirectToLogin()
}

// LoginPath is the login entry point.
const LoginPath = "/login"

// authEntryPoints run their own failure handling; a 401 seen while one of
// them is the navigation target is left alone.
var authEntryPoints = []string{
	LoginPath,
	"/auth/callback",
	"/oauth/callback",
	"/onboarding",
}

// IsAuthEntryPoint reports whether path is the login page, an OAuth
// callback or onboarding.
func IsAuthEntryPoint(path string) bool {
	for _, prefix := range authEntryPoints {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return true
		}
	}
	return false
}

type noopNavigator struct{}

func (noopNavigator) CurrentPath() string { return "" }
func (noopNavigator) RedirectToLogin()    {}
