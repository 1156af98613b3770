package process

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/slok/wavemig/internal/model"
)

// Target identifies the worker of a task for the liveness probes.
type Target struct {
	SourceID string
	TargetID string
	LockPath string
	// Lock is the current lock content, nil when there is no lock.
	Lock *model.ProcessLock
}

// LivenessProbe is a strategy to find the live worker processes of a task.
type LivenessProbe interface {
	Name() string
	Find(ctx context.Context, t Target) ([]int, error)
}

// LockPIDProbe finds the worker through the pid recorded on the lock.
type LockPIDProbe struct {
	Table Table
}

func (p LockPIDProbe) Name() string { return "lock-pid" }

func (p LockPIDProbe) Find(ctx context.Context, t Target) ([]int, error) {
	if t.Lock == nil || t.Lock.PID <= 0 {
		return nil, nil
	}

	if !p.Table.Alive(t.Lock.PID) {
		return nil, nil
	}

	return []int{t.Lock.PID}, nil
}

// OpenFileProbe finds the processes that have the lock file open.
type OpenFileProbe struct {
	Table Table
}

func (p OpenFileProbe) Name() string { return "open-file" }

func (p OpenFileProbe) Find(ctx context.Context, t Target) ([]int, error) {
	if t.LockPath == "" {
		return nil, nil
	}
	lockPath := filepath.Clean(t.LockPath)

	return scan(ctx, p.Table, func(pid int) bool {
		files, err := p.Table.OpenFiles(pid)
		if err != nil {
			// Processes we can't inspect or that are gone.
			return false
		}
		for _, f := range files {
			if filepath.Clean(f) == lockPath {
				return true
			}
		}
		return false
	})
}

// CmdlineProbe finds the processes whose command line references the task ids.
type CmdlineProbe struct {
	Table Table
}

func (p CmdlineProbe) Name() string { return "cmdline" }

func (p CmdlineProbe) Find(ctx context.Context, t Target) ([]int, error) {
	if t.SourceID == "" {
		return nil, nil
	}

	return scan(ctx, p.Table, func(pid int) bool {
		args, err := p.Table.Cmdline(pid)
		if err != nil || len(args) == 0 {
			return false
		}
		tokens := cmdlineTokens(args)
		if !tokens[t.SourceID] {
			return false
		}
		return t.TargetID == "" || tokens[t.TargetID]
	})
}

// cmdlineTokens splits the arguments into whole values, "--source=123" gives "--source" and "123".
func cmdlineTokens(args []string) map[string]bool {
	tokens := map[string]bool{}
	for _, arg := range args {
		for _, tk := range strings.FieldsFunc(arg, func(r rune) bool { return r == '=' || unicode.IsSpace(r) }) {
			tokens[tk] = true
		}
	}
	return tokens
}

func scan(ctx context.Context, table Table, match func(pid int) bool) ([]int, error) {
	pids, err := table.PIDs()
	if err != nil {
		return nil, err
	}

	var found []int
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if match(pid) && table.Alive(pid) {
			found = append(found, pid)
		}
	}

	return found, nil
}

// DefaultProbes returns the OS discovery strategies in the order they are tried.
func DefaultProbes(table Table) []LivenessProbe {
	return []LivenessProbe{
		OpenFileProbe{Table: table},
		CmdlineProbe{Table: table},
	}
}

// FindFirst returns the first live pid found by the probes, in order. Probe failures are
// returned only when no probe finds a process.
func FindFirst(ctx context.Context, probes []LivenessProbe, t Target) (pid int, probe string, err error) {
	var errs []string
	for _, p := range probes {
		pids, err := p.Find(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return 0, "", ctx.Err()
			}
			errs = append(errs, fmt.Sprintf("%s: %s", p.Name(), err))
			continue
		}
		if len(pids) > 0 {
			return pids[0], p.Name(), nil
		}
	}

	if len(errs) > 0 {
		return 0, "", fmt.Errorf("process discovery failed: %s", strings.Join(errs, "; "))
	}

	return 0, "", nil
}

// FindAll returns the unique live pids found by every probe, probe failures don't stop the
// search and are returned apart.
func FindAll(ctx context.Context, probes []LivenessProbe, t Target) (pids []int, errs []error) {
	seen := map[int]struct{}{}
	for _, p := range probes {
		found, err := p.Find(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s probe: %w", p.Name(), err))
			continue
		}
		for _, pid := range found {
			if _, ok := seen[pid]; ok {
				continue
			}
			seen[pid] = struct{}{}
			pids = append(pids, pid)
		}
	}

	return pids, errs
}
