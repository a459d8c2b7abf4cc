// Package policy implements the two governance gates applied to every
// candidate source before dispatch: a group-based ACL check and evaluation
// of the manifest's embedded Rego policy through an external opa binary.
//
// Both gates fail closed. An evaluation error never grants access.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/coreason-ai/catalog/internal/model"
)

var (
	// ErrEvaluationFailed marks opa invocation or output-parsing failures.
	ErrEvaluationFailed = errors.New("policy: evaluation failed")

	// ErrTimeout marks an evaluation cut short by its deadline.
	ErrTimeout = errors.New("policy: evaluation timed out")

	// ErrInvalidInput marks inputs that could not be serialized for opa.
	ErrInvalidInput = errors.New("policy: invalid input")
)

// ActionQuery is the action attached to every policy input this broker
// evaluates. Registration is not policy-gated.
const ActionQuery = "QUERY"

// fallbackPackage is assumed when a policy omits its package declaration or
// declares one we cannot parse.
const fallbackPackage = "match"

var packageRe = regexp.MustCompile(`package\s+([a-zA-Z0-9_.]+)`)

// Evaluator applies the governance gates. Safe for concurrent use; each
// Evaluate call runs its own opa process against its own temp files.
type Evaluator struct {
	opaPath string
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator. opaPath may be empty, in which case the
// binary is discovered from $PATH and conventional install locations.
func NewEvaluator(opaPath string, logger *slog.Logger) *Evaluator {
	return &Evaluator{opaPath: opaPath, logger: logger}
}

// CheckAccess is the first gate: group-based ACL matching.
//
// Service accounts (claims carrying is_service_account == true) bypass the
// gate entirely. Everyone else needs at least one exact, case-sensitive
// match between the manifest's acls and the user's groups. A manifest with
// no acls is closed to non-service-accounts.
func (e *Evaluator) CheckAccess(user model.UserContext, manifest model.SourceManifest) bool {
	if user.IsServiceAccount() {
		return true
	}
	if len(manifest.ACLs) == 0 {
		return false
	}
	groups := make(map[string]struct{}, len(user.Groups))
	for _, g := range user.Groups {
		groups[g] = struct{}{}
	}
	for _, acl := range manifest.ACLs {
		if _, ok := groups[acl]; ok {
			return true
		}
	}
	return false
}

// Input is the document handed to opa for each evaluation.
type Input struct {
	Subject model.UserContext `json:"subject"`
	Object  ObjectContext     `json:"object"`
	Action  string            `json:"action"`
}

// ObjectContext is the manifest projection visible to policies.
type ObjectContext struct {
	URN         string `json:"urn"`
	Geo         string `json:"geo"`
	Sensitivity string `json:"sensitivity"`
	Owner       string `json:"owner"`
}

// NewInput builds the policy input for a query against a manifest.
func NewInput(user model.UserContext, manifest model.SourceManifest) Input {
	return Input{
		Subject: user,
		Object: ObjectContext{
			URN:         manifest.URN,
			Geo:         manifest.GeoLocation,
			Sensitivity: string(manifest.Sensitivity),
			Owner:       manifest.OwnerGroup,
		},
		Action: ActionQuery,
	}
}

// Evaluate is the second gate: runs the manifest's embedded Rego program
// against the input and returns whether data.<package>.allow is true.
//
// An empty or whitespace-only program denies without error. Any process
// failure, timeout, or unexpected output shape is an error, and the caller
// must treat errors as denial.
func (e *Evaluator) Evaluate(ctx context.Context, program string, input Input) (bool, error) {
	if strings.TrimSpace(program) == "" {
		return false, nil
	}

	pkg := extractPackage(program)
	if !strings.Contains(program, "package ") {
		program = "package " + fallbackPackage + "\n\n" + program
		pkg = fallbackPackage
	}

	opa, err := e.resolveBinary()
	if err != nil {
		return false, err
	}

	policyFile, inputFile, cleanup, err := writeTempInputs(program, input)
	if err != nil {
		return false, err
	}
	defer cleanup()

	queryRef := "data." + pkg + ".allow"
	cmd := exec.CommandContext(ctx, opa, "eval", "--format", "json", "-d", policyFile, "-i", inputFile, queryRef)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %s", ErrTimeout, queryRef)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Errorf("%w: opa exited %d: %s", ErrEvaluationFailed, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return false, fmt.Errorf("%w: run opa: %w", ErrEvaluationFailed, err)
	}

	allowed, err := parseEvalOutput(out)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// extractPackage pulls the package name from a Rego program. A declared but
// unparsable package falls back to the default.
func extractPackage(program string) string {
	if m := packageRe.FindStringSubmatch(program); m != nil {
		return m[1]
	}
	return fallbackPackage
}

// resolveBinary locates the opa executable: the configured path first, then
// $PATH, then conventional install locations.
func (e *Evaluator) resolveBinary() (string, error) {
	if e.opaPath != "" {
		if _, err := os.Stat(e.opaPath); err == nil {
			return e.opaPath, nil
		}
		e.logger.Warn("policy: configured opa path not found, falling back to discovery", "path", e.opaPath)
	}
	if p, err := exec.LookPath("opa"); err == nil {
		return p, nil
	}
	for _, candidate := range []string{"bin/opa", "/usr/local/bin/opa"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: opa binary not found", ErrEvaluationFailed)
}
