package cli

import (
	stdcontext "context"
	"errors"
	"fmt"

	"github.com/Paintersrp/remotelaunch/internal/api"
	"github.com/Paintersrp/remotelaunch/internal/control"
	"github.com/Paintersrp/remotelaunch/internal/status"
)

// ControlAPI exposes the control service and the latest status snapshot to
// the HTTP control plane.
type ControlAPI struct {
	service *control.Service
	latest  func() (status.Snapshot, bool)
}

// NewControlAPI wires svc and a snapshot source into an api.Controller.
func NewControlAPI(svc *control.Service, latest func() (status.Snapshot, bool)) *ControlAPI {
	if svc == nil || latest == nil {
		return nil
	}
	return &ControlAPI{service: svc, latest: latest}
}

// Status returns the most recent snapshot produced by the status reporter.
func (c *ControlAPI) Status(ctx stdcontext.Context) (*status.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, ok := c.latest()
	if !ok {
		return nil, api.ErrNoSnapshot
	}
	return &snap, nil
}

// Start launches the requested entry.
func (c *ControlAPI) Start(ctx stdcontext.Context, req api.StartRequest) (*api.StartResponse, error) {
	if err := c.service.StartEntry(ctx, req.EntryID, req.Args); err != nil {
		return nil, translateError(req.EntryID, err)
	}
	return &api.StartResponse{Success: true}, nil
}

// Stop terminates the requested entry's process tree.
func (c *ControlAPI) Stop(ctx stdcontext.Context, req api.StopRequest) (*api.StopResponse, error) {
	if err := c.service.StopEntry(ctx, req.EntryID); err != nil {
		return nil, translateError(req.EntryID, err)
	}
	return &api.StopResponse{Success: true}, nil
}

func translateError(id uint, err error) error {
	switch {
	case errors.Is(err, control.ErrInvalidID):
		return fmt.Errorf("%w: %d", api.ErrInvalidID, id)
	case errors.Is(err, control.ErrAlreadyRunning):
		return fmt.Errorf("%w: %d", api.ErrAlreadyRunning, id)
	case errors.Is(err, control.ErrNotRunning):
		return fmt.Errorf("%w: %d", api.ErrNotRunning, id)
	case errors.Is(err, control.ErrSpawn):
		return fmt.Errorf("%w: %v", api.ErrSpawnFailed, err)
	default:
		return err
	}
}

// Ensure interface compliance at compile time.
var _ api.Controller = (*ControlAPI)(nil)
