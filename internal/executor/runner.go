package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/hashicorp/go-gatedio"

	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/taskgraph"
)

// TaskRunner executes one leaf task's command. Tests substitute a fake; the
// real executor wires in ShellRunner.
type TaskRunner interface {
	Run(ctx context.Context, t *taskgraph.Task, pkg *pkggraph.Package) (stdout, stderr string, err error)
}

// ShellRunner invokes a task's command through a shell in the package
// directory, the way every package-manager task runner does. When Stream is
// set, output is additionally mirrored line-by-line with a task-ID prefix
// as it arrives, instead of only being available after the command exits.
type ShellRunner struct {
	Shell  string
	Stream io.Writer
}

func (r *ShellRunner) Run(ctx context.Context, t *taskgraph.Task, pkg *pkggraph.Package) (string, string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", t.Def.Command)
	cmd.Dir = pkg.Dir.ToString()
	cmd.Env = os.Environ()

	stdoutBuf := gatedio.NewByteBuffer()
	stderrBuf := gatedio.NewByteBuffer()
	if r.Stream != nil {
		prefix := color.New(color.FgCyan).Sprint(t.ID + ": ")
		cmd.Stdout = io.MultiWriter(stdoutBuf, &linePrefixWriter{prefix: prefix, out: r.Stream})
		cmd.Stderr = io.MultiWriter(stderrBuf, &linePrefixWriter{prefix: prefix, out: r.Stream})
	} else {
		cmd.Stdout = stdoutBuf
		cmd.Stderr = stderrBuf
	}

	err := cmd.Run()
	return stdoutBuf.String(), stderrBuf.String(), err
}

// linePrefixWriter prefixes every line written through it before mirroring
// to out, buffering a trailing partial line across Write calls.
type linePrefixWriter struct {
	prefix string
	out    io.Writer
	buf    bytes.Buffer
}

func (w *linePrefixWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// No trailing newline yet: push it back and wait for more.
			w.buf.WriteString(line)
			break
		}
		if _, werr := io.WriteString(w.out, w.prefix+line); werr != nil {
			return 0, werr
		}
	}
	return len(p), nil
}
