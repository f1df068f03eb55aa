package runner

import (
	"context"
	"strings"
	"time"
)

// Command describes one synchronous subprocess invocation.
// Either Args (list form) or Line (string form) must be set.
type Command struct {
	Args  []string
	Line  string
	Shell bool // run through the platform shell

	Dir     string            // working directory, empty for the current one
	Env     map[string]string // overrides merged over the parent environment
	Timeout time.Duration     // 0 disables the timeout

	// Check turns a non-zero exit status into a command execution error.
	Check bool

	// SampleRate is the number of resource samples per second taken from
	// the child while it runs. 0 disables sampling.
	SampleRate float64
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Args) > 0 {
		return strings.Join(c.Args, " ")
	}
	return c.Line
}

// Usage summarises resources consumed by a child process.
type Usage struct {
	PeakRSS uint64        // bytes, from sampling
	CPUTime time.Duration // user + system
	Samples int
}

// Result captures the outcome of a command execution.
type Result struct {
	Command   []string // argv actually executed
	ExitCode  int      // -1 if the process never ran, -N if killed by signal N
	Stdout    string
	Stderr    string
	Dir       string
	Env       map[string]string
	StartedAt time.Time
	Duration  time.Duration
	Usage     Usage
}

// Success reports a zero exit status.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes a single command and blocks until it finishes.
type Runner interface {
	// Run executes cmd within ctx. The Result is populated as far as the
	// execution got, even when an error is returned.
	Run(ctx context.Context, cmd Command) (Result, error)
}
