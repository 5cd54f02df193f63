package control

import (
	"errors"

	"github.com/Paintersrp/remotelaunch/internal/process"
)

var (
	ErrInvalidID      = errors.New("invalid entry id")
	ErrAlreadyRunning = errors.New("entry already running")
	ErrNotRunning     = errors.New("entry not running")
	// ErrSpawn is the supervisor's spawn failure, re-exported for callers that
	// only import control.
	ErrSpawn = process.ErrSpawn
)
