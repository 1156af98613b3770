package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ProcFS is a Table backed by a Linux procfs mount.
type ProcFS struct {
	root string
	self int
}

// NewProcFS returns a process table that reads root, "/proc" when empty.
func NewProcFS(root string) *ProcFS {
	if root == "" {
		root = "/proc"
	}
	return &ProcFS{root: root, self: os.Getpid()}
}

func (p *ProcFS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks the process exists.
	if err := proc.Signal(syscall.Signal(0)); err != nil && !isPermission(err) {
		return false
	}

	return !p.zombie(pid)
}

func (p *ProcFS) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("could not send %s to process %d: %w", sig, pid, err)
	}

	return nil
}

func (p *ProcFS) PIDs() ([]int, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("could not read process table: %w", err)
	}

	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == p.self {
			continue
		}
		pids = append(pids, pid)
	}

	return pids, nil
}

func (p *ProcFS) Cmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(p.root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, err
	}

	data = bytes.TrimRight(data, "\x00")
	if len(data) == 0 {
		return nil, nil
	}

	return strings.Split(string(data), "\x00"), nil
}

func (p *ProcFS) OpenFiles(pid int) ([]string, error) {
	fdDir := filepath.Join(p.root, strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil {
			// The descriptor may be closed while we list them.
			continue
		}
		files = append(files, target)
	}

	return files, nil
}

// zombie returns true when the process state is Z (exited, not reaped yet).
func (p *ProcFS) zombie(pid int) bool {
	data, err := os.ReadFile(filepath.Join(p.root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}

	// Format: pid (comm) state ..., comm may have spaces and parens.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}

	return data[i+2] == 'Z'
}

// isPermission is true for processes owned by other users, they exist.
func isPermission(err error) bool {
	return errors.Is(err, syscall.EPERM)
}
