// Package supervisor is the one parent process: it resolves
// certificate paths, forks N reactor children (as a re-exec of the
// running binary, Go having no safe fork()-without-exec for a
// multi-threaded runtime), pins each to a distinct CPU, and forwards
// SIGINT/SIGTERM for a graceful shutdown.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReactorIndexFlag is the internal-only flag a re-exec'd child is
// started with to tell it which reactor slot (and CPU) it owns. Not
// documented in --help.
const ReactorIndexFlag = "-reactor-index"

// Config is what the supervisor needs to know before spawning
// children: how many, and the certificate material each one should
// start with (already validated mutually exclusive by the caller).
type Config struct {
	Workers int

	CertPath string
	KeyPath  string

	// Args is the full argument list (excluding argv[0]) the parent
	// was started with; every child gets Args plus its own
	// -reactor-index appended.
	Args []string

	Logger interface {
		Infof(format string, args ...interface{})
		Errorf(format string, args ...interface{})
	}
}

// Run resolves cert/key to absolute paths, spawns Config.Workers
// re-exec'd children pinned one-per-CPU, and blocks until ctx is
// canceled (by a forwarded SIGINT/SIGTERM) or every child has exited.
// It sends SIGTERM to any still-running children before returning.
func Run(ctx context.Context, cfg Config) error {
	args, err := resolveCertArgs(cfg.Args, cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	signal.Ignore(syscall.SIGPIPE)

	children := make([]*child, 0, cfg.Workers)

	for i := 0; i < cfg.Workers; i++ {
		c, err := spawn(i, args)
		if err != nil {
			terminateAll(children)
			return fmt.Errorf("supervisor: spawning reactor %d: %w", i, err)
		}

		if err := pin(c.cmd.Process.Pid, i); err != nil && cfg.Logger != nil {
			cfg.Logger.Errorf("supervisor: pin reactor %d to CPU %d: %s", i, i, err)
		}

		children = append(children, c)

		if cfg.Logger != nil {
			cfg.Logger.Infof("supervisor: started reactor %d, pid %d", i, c.cmd.Process.Pid)
		}
	}

	return wait(ctx, children, cfg.Logger)
}

// child tracks one re-exec'd reactor process.
type child struct {
	cmd  *exec.Cmd
	done chan error
}

func spawn(index int, args []string) (*child, error) {
	childArgs := append(append([]string{}, args...), ReactorIndexFlag, fmt.Sprint(index))

	cmd := exec.Command(os.Args[0], childArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &child{cmd: cmd, done: make(chan error, 1)}

	go func() {
		c.done <- cmd.Wait()
	}()

	return c, nil
}

// pin is the Go-idiomatic equivalent of the source's post-fork-pre-
// exec CPU affinity call: since Go can't set affinity between fork and
// exec, it's applied to the already-started child instead.
func pin(pid int, cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu % numCPU())

	return unix.SchedSetaffinity(pid, &set)
}

func numCPU() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 1
	}

	if n := set.Count(); n > 0 {
		return n
	}

	return 1
}

// terminateAll signals and reaps every child directly. Only used
// before wait's own per-child forwarding goroutines exist (the
// spawn-failure path) — once those are running, signalAll plus
// draining exits is the correct way to reap without a double-read of
// c.done.
func terminateAll(children []*child) {
	signalAll(children)

	for _, c := range children {
		<-c.done
	}
}

func signalAll(children []*child) {
	for _, c := range children {
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// wait blocks until ctx is canceled (forwarding SIGTERM to every
// child and reaping them) or every child exits on its own.
func wait(ctx context.Context, children []*child, logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}) error {
	type exit struct {
		index int
		err   error
	}

	var wg sync.WaitGroup
	exits := make(chan exit, len(children))

	for i, c := range children {
		wg.Add(1)

		go func(i int, c *child) {
			defer wg.Done()
			exits <- exit{index: i, err: <-c.done}
		}(i, c)
	}

	go func() {
		wg.Wait()
		close(exits)
	}()

	for {
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Infof("supervisor: shutdown signal received, forwarding SIGTERM to %d reactors", len(children))
			}

			signalAll(children)

			for result := range exits {
				if result.err != nil && logger != nil {
					logger.Errorf("supervisor: reactor %d exited: %s", result.index, result.err)
				}
			}

			return nil
		case result, ok := <-exits:
			if !ok {
				return nil
			}

			if result.err != nil && logger != nil {
				logger.Errorf("supervisor: reactor %d exited: %s", result.index, result.err)
			}
		}
	}
}

// resolveCertArgs rewrites --cert/--key values in args to absolute
// paths before any child is spawned, so every child observes a
// deterministic path regardless of its own working directory.
func resolveCertArgs(args []string, certPath, keyPath string) ([]string, error) {
	out := make([]string, 0, len(args))

	absCert, err := absIfSet(certPath)
	if err != nil {
		return nil, err
	}

	absKey, err := absIfSet(keyPath)
	if err != nil {
		return nil, err
	}

	skipNext := false

	for i, a := range args {
		if skipNext {
			skipNext = false
			continue
		}

		switch a {
		case "--cert", "-cert":
			out = append(out, a, absCert)
			skipNext = i+1 < len(args)
		case "--key", "-key":
			out = append(out, a, absKey)
			skipNext = i+1 < len(args)
		default:
			out = append(out, a)
		}
	}

	return out, nil
}

func absIfSet(p string) (string, error) {
	if p == "" {
		return "", nil
	}

	return filepath.Abs(p)
}
