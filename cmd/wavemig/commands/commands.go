package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug        bool
	NoLog        bool
	NoColor      bool
	LoggerType   string
	DataDir      string
	DBPath       string
	SettingsPath string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), ".wavemig")
	app.Flag("data-dir", "Directory of the database and the default worker artifact directories.").Envar("WAVEMIG_DATA_DIR").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("db-path", "Path to the SQLite database file (defaults to <data-dir>/wavemig.db).").Envar("WAVEMIG_DB_PATH").StringVar(&c.DBPath)
	app.Flag("settings", "Path to the YAML settings file (defaults to <data-dir>/settings.yaml).").Envar("WAVEMIG_SETTINGS").StringVar(&c.SettingsPath)

	return c
}

// dbPath returns the database path, inside the data dir unless set.
func (r RootCommand) dbPath() string {
	if r.DBPath != "" {
		return r.DBPath
	}
	return filepath.Join(r.DataDir, "wavemig.db")
}

// settingsPath returns the settings file path, inside the data dir unless set.
func (r RootCommand) settingsPath() string {
	if r.SettingsPath != "" {
		return r.SettingsPath
	}
	return filepath.Join(r.DataDir, "settings.yaml")
}

func (r RootCommand) printer(format string) printer.Printer {
	switch format {
	case "json":
		return printer.NewJSONPrinter(r.Stdout)
	default: // table
		return printer.NewTablePrinter(r.Stdout)
	}
}
