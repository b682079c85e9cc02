package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/withObsrvr/docking-worker/internal/ligand"
	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/metrics"
	"github.com/withObsrvr/docking-worker/internal/program"
)

// DefaultKillGrace is how long a cancelled program may take to exit after
// SIGTERM before its process group is killed.
const DefaultKillGrace = 5 * time.Second

// DockerConfig configures the docking workers.
type DockerConfig struct {
	Registry      *program.Registry
	ToolsPath     string
	InputFilesDir string // linked into every task directory
	Threads       int
	LigandFormat  string
	WithSMILES    bool
	KillGrace     time.Duration
}

// Docker runs docking tasks as external processes.
type Docker struct {
	cfg       DockerConfig
	workspace Workspace
	log       *slog.Logger
}

// NewDocker creates a docking worker.
func NewDocker(cfg DockerConfig, ws Workspace) *Docker {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Docker{cfg: cfg, workspace: ws, log: logging.Component("docker")}
}

// Run executes one task and returns its docking_complete event. A failed
// docking is not an error; an error is returned only for an unknown
// program or when ctx is cancelled.
func (d *Docker) Run(ctx context.Context, task Task) (Event, error) {
	adapter, err := d.cfg.Registry.Lookup(task.Scenario.Program)
	if err != nil {
		return Event{}, fmt.Errorf("scenario %s: %w", task.Scenario.Name, err)
	}

	ev := Event{
		Kind:       EventDockingComplete,
		Collection: task.Collection,
		Ligand:     task.Ligand,
		Scenario:   task.Scenario.Name,
		Replica:    task.Replica,
		Status:     StatusFailed,
	}
	if d.cfg.WithSMILES {
		ev.SMILES = ligand.SMILES(d.cfg.LigandFormat, task.LigandPath)
	}

	start := time.Now()
	out, runErr := d.execute(ctx, adapter, task)
	ev.Seconds = time.Since(start).Seconds()
	if ctx.Err() != nil {
		return Event{}, ctx.Err()
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		ev.Reason = "failed(timeout)"
		ev.Info = fmt.Sprintf("timeout after %s", task.Timeout)
	case runErr != nil:
		ev.Reason = "failed(program)"
		ev.Info = runErr.Error()
	default:
		score, err := adapter.ParseResult(out)
		if err != nil {
			ev.Reason = "failed(no_score)"
			ev.Info = err.Error()
			break
		}
		ev.Status = StatusSuccess
		ev.Reason = "succeeded"
		ev.Score = &score
	}

	if m := metrics.Get(); m != nil {
		m.ObserveDocking(task.Scenario.Name, task.Scenario.Program, string(ev.Status), ev.Seconds)
	}
	return ev, nil
}

// execute runs the program in a fresh task directory and writes its log
// file. A timeout is reported as context.DeadlineExceeded.
func (d *Docker) execute(ctx context.Context, adapter program.Adapter, task Task) (program.Output, error) {
	var out program.Output

	dir, err := os.MkdirTemp(d.workspace.Tasks(), "task-")
	if err != nil {
		return out, fmt.Errorf("create task dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ligandPath, err := d.link(dir, task)
	if err != nil {
		return out, err
	}

	argv, err := adapter.BuildCommand(program.Invocation{
		ToolsPath:  d.cfg.ToolsPath,
		Program:    task.Scenario.Program,
		ConfigPath: task.Scenario.ConfigPath,
		LigandPath: ligandPath,
		OutputPath: task.OutputPath,
		OutputBase: task.OutputBase,
		Threads:    d.cfg.Threads,
	})
	if err != nil {
		return out, fmt.Errorf("build command: %w", err)
	}

	runCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Signal the whole process group so helpers started by the program die too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = d.cfg.KillGrace

	runErr := cmd.Run()
	// WaitDelay only kills the leader. Anything left in the group after the
	// grace period does not survive the task.
	if cmd.Process != nil {
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			d.log.Warn("failed to kill process group", "pid", cmd.Process.Pid, "error", err)
		}
	}
	out = program.Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if err := writeLog(task.LogPath, out); err != nil {
		d.log.Warn("failed to write docking log", "path", task.LogPath, "error", err)
	}

	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, context.DeadlineExceeded
	}
	return out, runErr
}

// link populates the task directory with the shared input files and the
// ligand, returning the ligand's path inside the directory.
func (d *Docker) link(dir string, task Task) (string, error) {
	if d.cfg.InputFilesDir != "" {
		entries, err := os.ReadDir(d.cfg.InputFilesDir)
		if err != nil {
			return "", fmt.Errorf("read input files: %w", err)
		}
		for _, e := range entries {
			if err := os.Symlink(filepath.Join(d.cfg.InputFilesDir, e.Name()), filepath.Join(dir, e.Name())); err != nil {
				return "", fmt.Errorf("link input file %s: %w", e.Name(), err)
			}
		}
	}

	dst := filepath.Join(dir, filepath.Base(task.LigandPath))
	if err := os.Symlink(task.LigandPath, dst); err != nil {
		return "", fmt.Errorf("link ligand: %w", err)
	}
	return dst, nil
}

func writeLog(path string, out program.Output) error {
	var b bytes.Buffer
	b.WriteString("STDOUT:\n")
	b.WriteString(out.Stdout)
	b.WriteString("\nSTDERR:\n")
	b.WriteString(out.Stderr)
	b.WriteString("\n")
	return os.WriteFile(path, b.Bytes(), 0644)
}
