package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

// scriptProber runs an external executable with the target appended as the
// final argument. No shell is involved, so target and args are never
// interpolated. Exit status is the primary health signal; a configured
// pattern is a secondary check layered on stdout.
type scriptProber struct {
	target  string
	params  domain.ScriptParams
	matchRE *regexp.Regexp
}

func newScriptProber(m domain.Monitor) *scriptProber {
	return &scriptProber{target: m.Target, params: *m.Script, matchRE: m.MatchRE}
}

func (p *scriptProber) Probe(ctx context.Context) domain.Outcome {
	start := time.Now()
	fail := func(err error, output string, exit int) domain.Outcome {
		return domain.Outcome{
			Output:   output,
			ExitCode: exit,
			Elapsed:  time.Since(start),
			Err:      err,
			Message:  err.Error(),
		}
	}

	info, err := os.Stat(p.params.Path)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrScriptNotFound, err), "", -1)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fail(fmt.Errorf("%w: %s is not an executable file", ErrScriptNotFound, p.params.Path), "", -1)
	}

	args := append(append([]string(nil), p.params.Args...), p.target)
	cmd := exec.CommandContext(ctx, p.params.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Wait must return even if a grandchild inherits and holds the pipes.
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	out := truncate(strings.TrimSpace(stdout.String()), maxOutputBytes)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fail(fmt.Errorf("%w: external script killed after %s",
			ErrTimeout, time.Since(start).Round(time.Millisecond)), out, -1)
	}

	if runErr != nil {
		var ee *exec.ExitError
		if errors.As(runErr, &ee) {
			err := fmt.Errorf("%w: exit code %d, stderr: %s",
				ErrScriptExec, ee.ExitCode(), clip(strings.TrimSpace(stderr.String())))
			return fail(err, out, ee.ExitCode())
		}
		return fail(fmt.Errorf("%w: %v", ErrScriptExec, runErr), out, -1)
	}

	if p.matchRE != nil && !p.matchRE.MatchString(stdout.String()) {
		err := fmt.Errorf("%w: pattern %q not found in script output: %s",
			ErrNoMatch, p.matchRE.String(), clip(out))
		return fail(err, out, 0)
	}

	msg := "exit 0"
	if out != "" {
		msg = clip(out)
	}
	return domain.Outcome{
		Healthy: true,
		Output:  out,
		Elapsed: time.Since(start),
		Message: msg,
	}
}
