package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/packwright/packwright/types"
)

const (
	// heartbeatInterval is how often a "still running" note is emitted
	// during output silence.
	heartbeatInterval = 20 * time.Second
	// outputCap bounds retained child output; only the tail is kept.
	outputCap = 256 << 10
)

// argVariants are the target-directory flag spellings tried in order.
// Installer tooling across versions is inconsistent about these.
func argVariants(targetDir string) [][]string {
	return [][]string{
		{"--installClient", "--installDir", targetDir},
		{"--install-client", "--target", targetDir},
		{"--installClient", targetDir},
	}
}

// unrecognizedMarkers identify a child complaining about a CLI flag.
var unrecognizedMarkers = []string{
	"unrecognized option",
	"unknown option",
	"is not a recognized option",
	"unrecognized arguments",
}

// execute runs the installer JAR against the game directory, trying the
// known flag spellings and degrading to the home-redirect strategy when
// the child rejects them all.
func (i *Installer) execute(ctx context.Context, jarPath, mirrorBase string) error {
	var errs []error
	for _, args := range argVariants(i.opts.GameDir) {
		err := i.runOnce(ctx, jarPath, args, nil, mirrorBase)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInstallerStall) || errors.Is(err, ErrInstallerTimeout) || ctx.Err() != nil {
			return err
		}
		if errors.Is(err, errUnrecognizedOption) {
			i.log.Info("installer rejected directory flags, using home redirect")
			return i.executeRedirected(ctx, jarPath, mirrorBase)
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("installer failed with every argument spelling: %w", errors.Join(errs...))
}

// executeRedirected runs the installer with no directory flag but with
// its notion of the user home pointed at a scratch directory, then
// merges whatever tree it produced into the real game directory.
func (i *Installer) executeRedirected(ctx context.Context, jarPath, mirrorBase string) error {
	scratch, err := os.MkdirTemp("", "packwright-install-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	env := []string{
		"APPDATA=" + scratch,
		"HOME=" + scratch,
		"XDG_DATA_HOME=" + scratch,
	}
	if err := i.runOnce(ctx, jarPath, []string{"--installClient"}, env, mirrorBase); err != nil {
		return err
	}

	// The installer writes under <home>/.minecraft on POSIX and directly
	// under APPDATA/.minecraft on Windows.
	produced := filepath.Join(scratch, ".minecraft")
	if _, err := os.Stat(produced); err != nil {
		produced = scratch
	}
	if err := mergeTree(produced, i.opts.GameDir); err != nil {
		return fmt.Errorf("merge redirected install: %w", err)
	}
	return nil
}

// runOnce supervises one installer invocation: combined output streamed
// to the log sink with a capped tail retained, heartbeats during
// silence, a stall kill, and an overall wall-time bound.
func (i *Installer) runOnce(ctx context.Context, jarPath string, args, extraEnv []string, mirrorBase string) error {
	runCtx, cancel := context.WithTimeout(ctx, i.opts.OverallTimeout)
	defer cancel()

	cmdArgs := append([]string{"-jar", jarPath}, args...)
	cmd := exec.CommandContext(runCtx, i.opts.JavaPath, cmdArgs...)
	cmd.Dir = i.opts.GameDir
	// After a kill, grandchildren can keep the output pipe open; WaitDelay
	// forces Wait to return anyway so the stall and overall timeouts stay
	// hard bounds on wall time.
	cmd.WaitDelay = 5 * time.Second
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := os.MkdirAll(i.opts.GameDir, 0o755); err != nil {
		return fmt.Errorf("create game dir: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start installer: %w", err)
	}

	var (
		mu         sync.Mutex
		tail       []byte
		lastOutput = time.Now()
		stalled    bool
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64<<10), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			lastOutput = time.Now()
			tail = appendCapped(tail, line)
			mu.Unlock()
			i.log.Debug("installer output", zap.String("line", line))
			i.emitter.Emit(types.Event{Type: types.EventInstallerOutput, Message: line})
		}
		// A single line over the scanner's cap ends line parsing with
		// ErrTooLong. Keep draining raw bytes so the child's writes never
		// block on the pipe and Wait can return; the bytes still count as
		// output activity for the stall watchdog.
		buf := make([]byte, 32<<10)
		for {
			n, rerr := pr.Read(buf)
			if n > 0 {
				mu.Lock()
				lastOutput = time.Now()
				tail = appendCapped(tail, string(buf[:n]))
				mu.Unlock()
			}
			if rerr != nil {
				return
			}
		}
	}()

	tick := heartbeatInterval
	if i.opts.StallWindow < tick {
		tick = i.opts.StallWindow
	}
	watchdog := time.NewTicker(tick)
	defer watchdog.Stop()
	watchDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-watchDone:
				return
			case <-watchdog.C:
				mu.Lock()
				silence := time.Since(lastOutput)
				mu.Unlock()
				if silence >= i.opts.StallWindow {
					mu.Lock()
					stalled = true
					mu.Unlock()
					// Cancelling the run context kills the child through
					// exec's Cancel and arms WaitDelay, which Process.Kill
					// alone would not.
					cancel()
					return
				}
				if silence >= heartbeatInterval {
					i.log.Info("installer still running", zap.Duration("silence", silence.Round(time.Second)))
					i.emitter.Emit(types.Event{Type: types.EventInstallerHeartbeat, Message: "still running"})
				}
			}
		}
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	<-done
	close(watchDone)

	mu.Lock()
	wasStalled := stalled
	output := string(tail)
	mu.Unlock()

	if wasStalled {
		hint := mirrorBase
		if hint == "" {
			hint = "https://" + i.opts.CanonicalHost
		}
		return fmt.Errorf("%w (no output for %s, downloads were going through %s)",
			ErrInstallerStall, i.opts.StallWindow, hint)
	}
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%w (%s)", ErrInstallerTimeout, i.opts.OverallTimeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		if containsUnrecognizedOption(output) {
			return fmt.Errorf("%w: %s", errUnrecognizedOption, lastLines(output, 3))
		}
		return fmt.Errorf("installer exited: %w: %s", waitErr, lastLines(output, 5))
	}
	return nil
}

func containsUnrecognizedOption(output string) bool {
	lowered := strings.ToLower(output)
	for _, marker := range unrecognizedMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// appendCapped appends line to buf, keeping only the newest outputCap
// bytes.
func appendCapped(buf []byte, line string) []byte {
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if len(buf) > outputCap {
		buf = buf[len(buf)-outputCap:]
	}
	return buf
}

// lastLines returns up to n trailing non-empty lines of output.
func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// mergeTree copies every file under src into dst, creating directories
// as needed and replacing files that already exist.
func mergeTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
}
