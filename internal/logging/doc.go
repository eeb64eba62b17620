// Package logging configures structured slog output for ragscraper
// processes. Each long-running stage consumer writes JSON records to its
// own rotating file under ~/.ragscraper/logs/ and, optionally, to stderr.
package logging
