package status

import (
	"time"

	"github.com/Paintersrp/remotelaunch/internal/registry"
)

// EntryStatus is the published view of one registry entry.
type EntryStatus struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name"`
	Command          string     `json:"command"`
	WorkingDirectory string     `json:"working_directory"`
	Running          bool       `json:"running"`
	Pid              int        `json:"pid,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
}

// Snapshot is an ordered status report over every entry.
type Snapshot struct {
	Sequence    uint64        `json:"sequence"`
	GeneratedAt time.Time     `json:"generated_at"`
	Entries     []EntryStatus `json:"entries"`
}

// Running returns the number of running entries.
func (s Snapshot) Running() int {
	n := 0
	for _, e := range s.Entries {
		if e.Running {
			n++
		}
	}
	return n
}

func entryStatus(info registry.Info) EntryStatus {
	st := EntryStatus{
		ID:               info.ID,
		Name:             info.Name,
		Command:          info.Command,
		WorkingDirectory: info.Workdir,
		Running:          info.Running,
		Pid:              info.Pid,
	}
	if !info.StartedAt.IsZero() {
		started := info.StartedAt
		st.StartedAt = &started
	}
	return st
}
