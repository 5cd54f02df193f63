package api

import (
	stdcontext "context"
	"errors"

	"github.com/Paintersrp/remotelaunch/internal/status"
)

var (
	ErrInvalidID      = errors.New("invalid entry id")
	ErrAlreadyRunning = errors.New("entry already running")
	ErrNotRunning     = errors.New("entry not running")
	ErrSpawnFailed    = errors.New("spawn failed")
	ErrNoSnapshot     = errors.New("no status snapshot yet")
	ErrBadRequest     = errors.New("bad request")
)

// StartRequest asks for an entry to be started with optional extra arguments.
type StartRequest struct {
	EntryID uint   `json:"entry_id"`
	Args    string `json:"args"`
}

// StartResponse reports the outcome of a StartRequest.
type StartResponse struct {
	Success bool `json:"success"`
}

// StopRequest asks for an entry's process tree to be stopped.
type StopRequest struct {
	EntryID uint `json:"entry_id"`
}

// StopResponse reports the outcome of a StopRequest.
type StopResponse struct {
	Success bool `json:"success"`
}

// Controller exposes supervisor operations required by control servers.
// Failures are reported through the sentinel errors above.
type Controller interface {
	Status(stdcontext.Context) (*status.Snapshot, error)
	Start(stdcontext.Context, StartRequest) (*StartResponse, error)
	Stop(stdcontext.Context, StopRequest) (*StopResponse, error)
}
