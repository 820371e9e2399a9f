package adapter

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Launcher opens video URLs in an external player
type Launcher struct {
	command   string   // configured player command, empty for system default
	args      []string // additional arguments for the player
	startFlag string   // offset flag prefix, e.g., "--start=" or "-ss "
	logger    *slog.Logger

	// start runs the command without waiting; replaced in tests
	start func(name string, args ...string) error
}

// offsetFlags maps known players to their resume offset flag
var offsetFlags = map[string]string{
	"mpv":       "--start=",
	"vlc":       "--start-time=",
	"iina":      "--mpv-start=",
	"celluloid": "--mpv-start=",
	"haruna":    "--mpv-start=",
	"ffplay":    "-ss ",
	"potplayer": "/seek=",
}

// NewLauncher creates a Launcher, auto-detecting the offset flag of known players
func NewLauncher(command string, args []string, startFlag string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}

	resolvedFlag := startFlag
	if resolvedFlag == "" && command != "" {
		base := strings.ToLower(filepath.Base(command))
		// Strip any extension (for Windows .exe)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if flag, ok := offsetFlags[base]; ok {
			resolvedFlag = flag
			logger.Debug("auto-detected player offset flag", "player", base, "flag", resolvedFlag)
		}
	}

	return &Launcher{
		command:   command,
		args:      args,
		startFlag: resolvedFlag,
		logger:    logger,
		start: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
	}
}

// Launch opens url in the configured player, or the system default handler
func (l *Launcher) Launch(url string, startOffset time.Duration) error {
	if l.command == "" {
		return l.launchDefault(url)
	}

	args := l.buildArgs(url, startOffset)
	l.logger.Info("launching player", "command", l.command, "args", args)
	if err := l.start(l.command, args...); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.command, err)
	}
	return nil
}

// buildArgs returns the player arguments with the offset injected and url last
func (l *Launcher) buildArgs(url string, startOffset time.Duration) []string {
	args := append([]string{}, l.args...)

	if startOffset > 0 && l.startFlag != "" {
		seconds := fmt.Sprintf("%.0f", startOffset.Seconds())
		// Handle flags that need a space (like "-ss 120") vs no space ("--start=120")
		if strings.HasSuffix(l.startFlag, " ") {
			args = append(args, strings.TrimSuffix(l.startFlag, " "), seconds)
		} else {
			args = append(args, l.startFlag+seconds)
		}
	} else if startOffset > 0 {
		l.logger.Warn("cannot set start offset - unknown player, configure start_flag in config",
			"command", l.command, "offset", startOffset)
	}

	return append(args, url)
}

// launchDefault opens the URL using the system default handler
func (l *Launcher) launchDefault(url string) error {
	l.logger.Info("launching with system default", "os", runtime.GOOS, "url", url)

	switch runtime.GOOS {
	case "darwin":
		return l.start("open", url)
	case "windows":
		return l.start("cmd", "/c", "start", "", url)
	default:
		return l.start("xdg-open", url)
	}
}
