// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"sync"
)

// process owns one language server subprocess and its pipes.
//
// Description:
//
//	release kills and reaps the process and is safe to call any number of
//	times from any goroutine. Every path that abandons a process calls it:
//	a failed Start, Stop, and the reader loop reaching end of stream.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	releaseOnce sync.Once
	waitErr     error
}

// startProcess spawns def's command in dir with piped stdio.
//
// Inputs:
//
//	def - Server definition supplying command, args, and env.
//	dir - Working directory, normally the project root.
//	stderr - Destination for the server's stderr.
//
// Outputs:
//
//	*process - The running process. Caller must eventually call release.
//	error - Non-nil if the binary is missing or the spawn failed.
func startProcess(def *ServerDefinition, dir string, stderr io.Writer) (*process, error) {
	path, err := exec.LookPath(def.Command)
	if err != nil {
		return nil, fmt.Errorf("command %q not found: %w", def.Command, err)
	}

	cmd := exec.Command(path, def.Args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(def.Env)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// buildEnv returns the inherited environment plus extra, sorted by key so
// the child sees a stable order. Later entries win on duplicate keys.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// pid returns the process id, or 0 if unknown.
func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// release kills the process and waits for it to exit.
func (p *process) release() error {
	p.releaseOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// stderrLogger forwards server stderr to the logger one line at a time.
type stderrLogger struct {
	logger *slog.Logger
	server string

	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer. Partial lines are held until completed.
func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Put the partial line back for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.logger.Debug("LSP server stderr",
			slog.String("server", w.server),
			slog.String("line", line[:len(line)-1]),
		)
	}
	return len(p), nil
}
