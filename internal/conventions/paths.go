package conventions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultDataDir is the default wavemig data directory name (relative to home).
	DefaultDataDir = ".wavemig"
	// DBFile is the SQLite database filename.
	DBFile = "wavemig.db"
	// SettingsFile is the settings filename.
	SettingsFile = "settings.yaml"

	// LocksDir is the default subdirectory where workers write their lock files.
	LocksDir = "locks"
	// CacheDir is the default subdirectory where workers write their intermediate cache.
	CacheDir = "cache"
	// LogsDir is the default subdirectory where workers write their logs.
	LogsDir = "logs"

	lockFilePrefix = "migration_"
	lockFileExt    = ".lock"
	logFileExt     = ".log"
	cacheFileExt   = ".json"
)

// ArtifactName returns the base name (without extension) shared by the lock and log
// artifacts of a task. IDs are escaped so the "_" joiner is unambiguous.
func ArtifactName(sourceID, targetID string) string {
	return fmt.Sprintf("%s%s_%s", lockFilePrefix, sanitize(sourceID), sanitize(targetID))
}

// LockFilePath returns the path of the worker lock file for a task.
func LockFilePath(lockDir, sourceID, targetID string) string {
	return filepath.Join(lockDir, ArtifactName(sourceID, targetID)+lockFileExt)
}

// LogFilePath returns the path of the worker log file for a task.
func LogFilePath(logDir, sourceID, targetID string) string {
	return filepath.Join(logDir, ArtifactName(sourceID, targetID)+logFileExt)
}

// CacheKey returns the deterministic hash key of a task cache artifact.
func CacheKey(sourceID, targetID string) string {
	sum := sha256.Sum256([]byte(sourceID + ":" + targetID))
	return hex.EncodeToString(sum[:])[:16]
}

// CacheFilePath returns the path of the worker intermediate cache for a task.
func CacheFilePath(cacheDir, sourceID, targetID string) string {
	return filepath.Join(cacheDir, CacheKey(sourceID, targetID)+cacheFileExt)
}

// sanitize percent-escapes the joiner and the path separators so IDs can't escape the
// artifact directory or collide once joined.
func sanitize(id string) string {
	return idEscaper.Replace(id)
}

var idEscaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	"/", "%2F",
	"\\", "%5C",
)
