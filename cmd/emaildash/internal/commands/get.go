package commands

import (
	"context"
)

// GetCmd fetches an authenticated API path, recovering once from a
// transient 401.
type GetCmd struct {
	Path string `arg:"" help:"API path, e.g. /reports/summary"`
}

func (c *GetCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := globals.openSession(c.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	s.coord.Start()
	return s.fetch(ctx, c.Path, globals.Stdout)
}
