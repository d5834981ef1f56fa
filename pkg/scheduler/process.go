package scheduler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sort"

	"github.com/droverd/drover/pkg/types"
)

// Launcher starts external processes for jobs. The scheduler only needs a
// handle to the process id, its output streams, and an awaitable exit
// status, so a sandboxing launcher can be substituted without the scheduler
// noticing.
type Launcher interface {
	Launch(spec types.JobSpec) (Process, error)
}

// Process is a handle on one launched external process.
type Process interface {
	// PID returns the OS process id.
	PID() int
	// Stdout and Stderr stream the process output. Each must be drained to
	// EOF before Wait is called.
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code. A
	// signal-terminated process reports a negative code.
	Wait() (int, error)
	// Signal sends sig to the process.
	Signal(sig os.Signal) error
	// Kill terminates the process immediately.
	Kill() error
}

// ExecLauncher launches jobs as plain child processes via os/exec. Stdin is
// discarded; stdout and stderr are piped back to the scheduler's drainers.
type ExecLauncher struct{}

// Launch builds and starts the process described by spec. Errors are
// classified into the scheduling taxonomy: permission problems map to
// ErrPermissionDenied, pipe setup to ErrProcessCommunicationFailed, and
// everything else to ErrProcessStartFailed.
func (ExecLauncher) Launch(spec types.JobSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), spec.Env)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", types.ErrProcessCommunicationFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", types.ErrProcessCommunicationFailed, err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", types.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrProcessStartFailed, err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Nonzero exit or killed by signal (negative code); not a Wait error.
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Kill()
}

// mergeEnv layers overrides onto the base environment in sorted key order so
// repeated launches of the same spec are byte-identical.
func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
