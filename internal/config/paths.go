package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths
// This is the single source of truth for ALL file paths in the application
type Paths struct {
	ExecutableDir string
	DataDir       string
	UploadsDir    string
	ExportsDir    string
	LogsDir       string
	WebDir        string
	DatabaseFile  string
}

// GetPaths returns the default paths relative to the executable location.
func GetPaths() (*Paths, error) {
	exeDir, err := executableDir()
	if err != nil {
		return nil, err
	}
	return NewPaths(exeDir, Default().Paths, ""), nil
}

// ResolvePaths resolves the configured directories. Relative entries are
// joined to the executable directory, never the working directory.
func (c *Config) ResolvePaths() (*Paths, error) {
	exeDir, err := executableDir()
	if err != nil {
		return nil, err
	}
	return NewPaths(exeDir, c.Paths, c.Storage.SQLitePath), nil
}

// NewPaths lays out the directory tree under base.
//
//	<base>/
//	  data/
//	    uploads/   raw uploaded files
//	    exports/   CSV and XLSX exports
//	    egc.db     presets and rollup reports
//	  logs/
//	  web/
func NewPaths(base string, pc PathsConfig, sqlitePath string) *Paths {
	abs := func(p, fallback string) string {
		if p == "" {
			p = fallback
		}
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	dataDir := abs(pc.DataDir, "data")
	db := filepath.Join(dataDir, "egc.db")
	if sqlitePath != "" {
		db = abs(sqlitePath, "")
	}

	return &Paths{
		ExecutableDir: base,
		DataDir:       dataDir,
		UploadsDir:    filepath.Join(dataDir, "uploads"),
		ExportsDir:    filepath.Join(dataDir, "exports"),
		LogsDir:       abs(pc.LogsDir, "logs"),
		WebDir:        abs(pc.WebDir, "web"),
		DatabaseFile:  db,
	}
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.DataDir,
		p.UploadsDir,
		p.ExportsDir,
		p.LogsDir,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// UploadPath returns the path for a stored upload.
func (p *Paths) UploadPath(filename string) string {
	return filepath.Join(p.UploadsDir, filename)
}

// ExportPath returns the path for an export file.
func (p *Paths) ExportPath(filename string) string {
	return filepath.Join(p.ExportsDir, filename)
}

// LogPath returns the path for a log file.
func (p *Paths) LogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// LogPathResolution logs the resolved layout at startup.
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("data", p.DataDir),
			slog.String("uploads", p.UploadsDir),
			slog.String("exports", p.ExportsDir),
			slog.String("logs", p.LogsDir),
			slog.String("web", p.WebDir),
		),
		slog.String("database", p.DatabaseFile),
	)
}
