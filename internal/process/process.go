package process

import (
	"syscall"
)

// Table is the OS process table.
type Table interface {
	// Alive returns true when the process exists and is not a zombie.
	Alive(pid int) bool
	Signal(pid int, sig syscall.Signal) error
	// PIDs returns the visible processes, the current process excluded.
	PIDs() ([]int, error)
	Cmdline(pid int) ([]string, error)
	// OpenFiles returns the paths the process has open.
	OpenFiles(pid int) ([]string, error)
}
