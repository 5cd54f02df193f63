//go:build !windows

package process

import (
	"errors"
	"os"
	"time"

	psprocess "github.com/shirou/gopsutil/v4/process"
)

// createTimeSlack absorbs the coarse boot time gopsutil derives start times
// from.
const createTimeSlack = time.Second

// descendants lists every process below root, either through the parent pid
// chain or through membership of root's process group. Root itself and the
// calling process are excluded, as are processes created before notBefore.
//
// reaped reports whether root has already been waited for. In that case a
// live process holding root's pid is someone else: the kernel does not reuse a
// pid while it still names a process group, so none of root's descendants can
// remain in its group. descendants then returns nothing and recycled is true.
func descendants(root int, notBefore time.Time, reaped func() bool) (procs []*psprocess.Process, recycled bool, err error) {
	all, err := psprocess.Processes()
	if err != nil {
		return nil, false, err
	}

	self := int32(os.Getpid())
	rootPid := int32(root)
	cutoff := notBefore.Add(-createTimeSlack)
	byPid := make(map[int32]*psprocess.Process, len(all))
	children := make(map[int32][]int32, len(all))
	queue := []int32{rootPid}
	rootListed := false

	for _, p := range all {
		if p.Pid == rootPid {
			rootListed = true
			continue
		}
		if p.Pid == self {
			continue
		}
		ppid, err := p.Ppid()
		if err != nil {
			// Exited between listing and inspection.
			continue
		}
		if createdBefore(p, cutoff) {
			continue
		}
		byPid[p.Pid] = p
		children[ppid] = append(children[ppid], p.Pid)
		if pgid, ok := groupOf(int(p.Pid)); ok && pgid == root {
			queue = append(queue, p.Pid)
		}
	}
	if rootListed && reaped() {
		return nil, true, nil
	}

	seen := make(map[int32]bool, len(queue))
	var out []*psprocess.Process
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if pid != rootPid {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			out = append(out, byPid[pid])
		}
		queue = append(queue, children[pid]...)
	}
	return out, false, nil
}

func createdBefore(p *psprocess.Process, cutoff time.Time) bool {
	ms, err := p.CreateTime()
	if err != nil {
		return false
	}
	return time.UnixMilli(ms).Before(cutoff)
}

// exited reports whether p is gone or only lingers as a zombie.
func exited(p *psprocess.Process) bool {
	running, err := p.IsRunning()
	if err != nil || !running {
		return true
	}
	status, err := p.Status()
	if err != nil {
		return errors.Is(err, psprocess.ErrorProcessNotRunning)
	}
	for _, s := range status {
		if s == psprocess.Zombie {
			return true
		}
	}
	return false
}
