package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/slok/wavemig/internal/model"
)

// ReadLock reads a worker lock file. Missing files return model.ErrNotFound. Content that
// can't be decoded is not an error, the worker may be writing it, the lock is returned with
// only its heartbeat.
func ReadLock(path string) (*model.ProcessLock, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("lock %s: %w", path, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not stat lock: %w", err)
	}

	lock := &model.ProcessLock{
		Path:    path,
		ModTime: info.ModTime(),
		Fields:  map[string]any{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("lock %s: %w", path, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not read lock: %w", err)
	}

	if err := json.Unmarshal(data, &lock.Fields); err != nil {
		// Some workers write the bare pid.
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
			lock.PID = pid
		}
		return lock, nil
	}

	if pid, ok := intField(lock.Fields, "pid"); ok && pid > 0 {
		lock.PID = pid
	}
	if v, ok := lock.Fields["stage"].(string); ok {
		lock.Stage = v
	}
	if v, ok := intField(lock.Fields, "pages_done"); ok {
		lock.PagesDone = &v
	}
	if v, ok := intField(lock.Fields, "pages_total"); ok {
		lock.PagesTotal = &v
	}
	if t, ok := timeField(lock.Fields, "started_at"); ok {
		lock.StartedAt = &t
	}

	return lock, nil
}

func intField(fields map[string]any, key string) (int, bool) {
	switch v := fields[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// timeField accepts RFC3339 strings and unix seconds.
func timeField(fields map[string]any, key string) (time.Time, bool) {
	switch v := fields[key].(type) {
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	default:
		return time.Time{}, false
	}
}
