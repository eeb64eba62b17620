package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.ragscraper/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	if dir := os.Getenv("RAGSCRAPER_LOG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragscraper", "logs")
	}
	return filepath.Join(home, ".ragscraper", "logs")
}

// LogPath returns the log file for a component, e.g. logs/embed.log.
func LogPath(component string) string {
	if component == "" {
		component = "ragscraper"
	}
	return filepath.Join(DefaultLogDir(), component+".log")
}
