package process

import (
	"strings"
	"time"
)

// Result holds the output and status of a completed subprocess.
type Result struct {
	// Stdout is the captured standard output. Empty when Command.Stdout was set.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
	// ExitCode is the process exit code. -1 if the process was killed.
	ExitCode int
	// Duration is how long the process ran.
	Duration time.Duration
}

// StderrTail returns the last n non-empty stderr lines joined with "; ".
// Tools like ffmpeg print the actual failure reason at the end of a long
// banner, so the tail is what belongs in an error message.
func (r *Result) StderrTail(n int) string {
	lines := strings.Split(strings.TrimSpace(string(r.Stderr)), "\n")
	var kept []string
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "; ")
}
