/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// stderrLines is how many stderr lines are kept per process.
const stderrLines = 64

// Process is one running pipeline stage.
type Process interface {
	// Stdin is the encoder's input. Nil for decode and ingest stages.
	Stdin() io.WriteCloser
	// Stdout is the decoded stream. Nil for the encode stage.
	Stdout() io.ReadCloser
	// Wait blocks until the process exits. It may be called from several
	// goroutines and always returns the same error.
	Wait() error
	// Stop terminates the process (and its group), waiting up to grace
	// before killing it. It returns once the process has exited.
	Stop(grace time.Duration) error
	// Stderr returns the last captured stderr lines.
	Stderr() []string
	Pid() int
}

// Launcher starts pipeline stages.
type Launcher interface {
	Launch(ctx context.Context, stage models.ProcessStage, args []string) (Process, error)
}

// ExecLauncher runs ffmpeg. Each process gets its own process group so a
// stop reaches every child it spawned.
type ExecLauncher struct {
	bin    string
	logger zerolog.Logger
}

// NewExecLauncher creates a launcher for the given ffmpeg binary.
func NewExecLauncher(bin string, logger zerolog.Logger) *ExecLauncher {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &ExecLauncher{bin: bin, logger: logger}
}

// Launch starts bin with args. Decode and ingest stages write to a pipe
// returned by Stdout; the encode stage reads from Stdin.
func (l *ExecLauncher) Launch(_ context.Context, stage models.ProcessStage, args []string) (Process, error) {
	cmd := exec.Command(l.bin, args...)
	setProcessGroup(cmd)

	p := &execProcess{
		cmd:    cmd,
		stage:  stage,
		stderr: logbuffer.New(stderrLines),
		done:   make(chan struct{}),
		logger: l.logger,
	}
	cmd.Stderr = p.stderr

	// The child gets the far ends of os pipes directly so Wait never
	// closes our ends while data is still buffered.
	var childEnd *os.File
	if stage == models.StageEncode {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, &models.ProcessSpawnError{Stage: stage, Err: fmt.Errorf("create stdin pipe: %w", err)}
		}
		cmd.Stdin = r
		p.stdin = w
		childEnd = r
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, &models.ProcessSpawnError{Stage: stage, Err: fmt.Errorf("create stdout pipe: %w", err)}
		}
		cmd.Stdout = w
		p.stdout = r
		childEnd = w
	}

	if err := cmd.Start(); err != nil {
		childEnd.Close()
		if p.stdin != nil {
			p.stdin.Close()
		}
		if p.stdout != nil {
			p.stdout.Close()
		}
		return nil, &models.ProcessSpawnError{Stage: stage, Err: err}
	}
	childEnd.Close()

	go func() {
		p.err = cmd.Wait()
		close(p.done)
		l.logger.Debug().
			Err(p.err).
			Str("stage", string(stage)).
			Int("pid", cmd.Process.Pid).
			Msg("process exited")
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stage  models.ProcessStage
	stdin  *os.File
	stdout *os.File
	stderr *logbuffer.Ring
	logger zerolog.Logger

	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func (p *execProcess) Stdin() io.WriteCloser {
	if p.stdin == nil {
		return nil
	}
	return p.stdin
}

func (p *execProcess) Stdout() io.ReadCloser {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Stderr() []string {
	return p.stderr.Last(stderrLines)
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		pid := p.Pid()
		if err := terminateGroup(pid); err != nil {
			p.logger.Debug().Err(err).Int("pid", pid).Msg("terminate process group")
		}

		select {
		case <-p.done:
		case <-time.After(grace):
			p.logger.Warn().
				Str("stage", string(p.stage)).
				Int("pid", pid).
				Dur("grace", grace).
				Msg("grace period exceeded, killing process group")
			if err := killGroup(pid); err != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.done
		}
	})
	<-p.done
	if p.stdin != nil {
		p.stdin.Close()
	}
	return nil
}
