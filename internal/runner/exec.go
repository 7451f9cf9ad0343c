package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

const outputTail = 512

// CommandExec runs inv.Argv as a child process. The job name, occurrence
// and timezone are exported as LATERD_JOB, LATERD_OCCURRENCE and LATERD_TZ.
func CommandExec(ctx context.Context, inv Invocation) Result {
	if len(inv.Argv) == 0 {
		return Result{ExitCode: -1, Err: errors.New("empty command")}
	}
	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Env = append(os.Environ(),
		"LATERD_JOB="+inv.Job,
		"LATERD_OCCURRENCE="+inv.Occurrence.Format(time.RFC3339),
		"LATERD_TZ="+inv.Timezone,
	)
	out, err := cmd.CombinedOutput()
	res := Result{Output: tail(out, outputTail)}
	if err == nil {
		return res
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
	} else {
		res.ExitCode = -1
	}
	if ctx.Err() != nil {
		err = errors.Join(err, ctx.Err())
	}
	res.Err = err
	return res
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
