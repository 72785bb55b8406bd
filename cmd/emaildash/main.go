package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/tushar-growexxer/EmailDashboard-sub000/cmd/emaildash/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login  commands.LoginCmd  `cmd:"" help:"Log in to the dashboard backend"`
		Logout commands.LogoutCmd `cmd:"" help:"Log out and clear the local session"`
		Whoami commands.WhoamiCmd `cmd:"" help:"Show the logged in user"`
		Status commands.StatusCmd `cmd:"" help:"Show the local session record and projected expiry"`
		Get    commands.GetCmd    `cmd:"" help:"Fetch an authenticated API path"`
		Shell  commands.ShellCmd  `cmd:"" help:"Interactive session with idle warnings"`

		Server  string           `help:"Dashboard server URL" default:"https://localhost:8443" env:"EMAILDASH_SERVER"`
		Profile string           `help:"Session profile name" default:"default" env:"EMAILDASH_PROFILE"`
		Home    string           `help:"Base directory for profiles (default: ~/.emaildash)" env:"EMAILDASH_HOME"`
		Tracing bool             `help:"Export traces and metrics over OTLP" env:"EMAILDASH_TRACING"`
		Config  kong.ConfigFlag  `help:"Load flag defaults from a YAML file"`
		Debug   bool             `help:"Enable debug mode." env:"EMAILDASH_DEBUG"`
		Version kong.VersionFlag `help:"Print version and exit."`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("emaildash"),
		kong.Description("Email dashboard session client."),
		kong.Vars{
			"version": version,
		},
		kong.Configuration(commands.YAMLConfig, commands.DefaultConfigPath),
		kong.BindTo(ctx, (*context.Context)(nil)))

	globals := &commands.Globals{
		Debug:   cli.Debug,
		Version: version,
		Server:  cli.Server,
		Profile: cli.Profile,
		Home:    cli.Home,
		Tracing: cli.Tracing,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	shutdown := globals.Setup(ctx)
	err := cmd.Run(globals)
	shutdown()
	cmd.FatalIfErrorf(err)
}
