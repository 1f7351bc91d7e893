package process

import (
	"io"
	"os/exec"
	"time"
)

// Command configures a subprocess to execute.
type Command struct {
	// Binary is the executable path or name (resolved via PATH).
	Binary string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory. If empty, uses the current directory.
	Dir string
	// Env is additional environment variables (key=value). Merged with os.Environ.
	Env []string
	// Stdin provides input to the process. May be nil.
	Stdin io.Reader
	// Stdout, when set, receives standard output as it is produced instead of
	// being buffered into Result.Stdout. Useful for large binary streams.
	Stdout io.Writer
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	// Defaults to 5 seconds if zero.
	GracePeriod time.Duration
}

// Available reports whether the named binary can be resolved via PATH.
func Available(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
