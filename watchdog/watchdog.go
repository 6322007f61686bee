// Package watchdog tells the kernel liveness monitor that the daemon is
// alive by writing control strings into a watchdog file.
package watchdog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/criyle/go-appspawn/config"
)

var errNoFile = errors.New("watchdog: no watchdog file available")

// Watchdog writes to the first candidate file that accepts the enable
// string. Every write opens, writes and closes the file.
type Watchdog struct {
	files  []config.WatchdogFile
	active *config.WatchdogFile
	logger *slog.Logger
}

// New creates a watchdog over the candidate files
func New(files []config.WatchdogFile, logger *slog.Logger) *Watchdog {
	return &Watchdog{files: files, logger: logger}
}

// Open enables monitoring on the first candidate file that can be written
func (w *Watchdog) Open() error {
	for i := range w.files {
		f := &w.files[i]
		if err := writeFile(f.Path, f.On); err != nil {
			w.logger.Debug("watchdog file unavailable", "path", f.Path, "error", err)
			continue
		}
		w.active = f
		w.logger.Info("watchdog enabled", "path", f.Path)
		return nil
	}
	return errNoFile
}

// Kick writes the kick string. Monitoring is enabled first when an earlier
// Open failed.
func (w *Watchdog) Kick() error {
	if w.active == nil {
		return w.Open()
	}
	if err := writeFile(w.active.Path, w.active.Kick); err != nil {
		return fmt.Errorf("watchdog: kick %v: %w", w.active.Path, err)
	}
	return nil
}

// Path returns the active watchdog file
func (w *Watchdog) Path() string {
	if w.active == nil {
		return ""
	}
	return w.active.Path
}

func writeFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	n, err := f.WriteString(s)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != len(s) {
		err = fmt.Errorf("short write %d/%d", n, len(s))
	}
	return err
}
