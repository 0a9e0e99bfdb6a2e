package verifier

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// ScriptVerifier runs a ticket's phases as shell commands inside its
// checked-out branch directory and reports pass/fail from their exit
// codes, grounded on the same exec.Command-per-step shape used for VCS
// working-tree operations.
type ScriptVerifier struct {
	workDir string
}

// NewScriptVerifier builds a ScriptVerifier that runs each phase in the
// existing working tree at workDir/<branch>; it does not check out branches.
func NewScriptVerifier(workDir string) *ScriptVerifier {
	return &ScriptVerifier{workDir: workDir}
}

func (v *ScriptVerifier) Verify(ctx context.Context, req Request) (*Result, error) {
	dir := filepath.Join(v.workDir, req.Branch)
	var output bytes.Buffer

	for i, phase := range req.Phases {
		cmd := exec.CommandContext(ctx, "sh", "-c", phase)
		cmd.Dir = dir
		cmd.Stdout = &output
		cmd.Stderr = &output
		if err := cmd.Run(); err != nil {
			return &Result{
				Status:           StatusFailed,
				FeedbackForAgent: fmt.Sprintf("phase %d (%q) failed: %v\n%s", i, phase, err, output.String()),
				Details:          map[string]interface{}{"failed_phase": i, "output": output.String()},
			}, nil
		}
	}

	return &Result{Status: StatusPassed, Details: map[string]interface{}{"output": output.String()}}, nil
}
