package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// writeTempInputs stages the policy program and input document as temp
// files for opa. The returned cleanup removes both and is safe to call even
// when staging partially failed.
func writeTempInputs(program string, input Input) (policyFile, inputFile string, cleanup func(), err error) {
	doc, err := json.Marshal(input)
	if err != nil {
		return "", "", func() {}, fmt.Errorf("%w: marshal input: %w", ErrInvalidInput, err)
	}

	pf, err := os.CreateTemp("", "catalog-policy-*.rego")
	if err != nil {
		return "", "", func() {}, fmt.Errorf("%w: create policy file: %w", ErrEvaluationFailed, err)
	}
	policyFile = pf.Name()
	cleanup = func() { _ = os.Remove(policyFile) }

	if _, err := pf.WriteString(program); err != nil {
		_ = pf.Close()
		cleanup()
		return "", "", func() {}, fmt.Errorf("%w: write policy file: %w", ErrEvaluationFailed, err)
	}
	if err := pf.Close(); err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("%w: close policy file: %w", ErrEvaluationFailed, err)
	}

	inf, err := os.CreateTemp("", "catalog-input-*.json")
	if err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("%w: create input file: %w", ErrEvaluationFailed, err)
	}
	inputFile = inf.Name()
	cleanup = func() {
		_ = os.Remove(policyFile)
		_ = os.Remove(inputFile)
	}

	if _, err := inf.Write(doc); err != nil {
		_ = inf.Close()
		cleanup()
		return "", "", func() {}, fmt.Errorf("%w: write input file: %w", ErrEvaluationFailed, err)
	}
	if err := inf.Close(); err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("%w: close input file: %w", ErrEvaluationFailed, err)
	}

	return policyFile, inputFile, cleanup, nil
}

// evalOutput mirrors the shape of `opa eval --format json`.
type evalOutput struct {
	Result []struct {
		Expressions []struct {
			Value any `json:"value"`
		} `json:"expressions"`
	} `json:"result"`
}

// parseEvalOutput extracts the boolean verdict from opa's JSON output.
// A missing result (the rule was undefined) denies without error; anything
// structurally unexpected beyond that is an evaluation failure.
func parseEvalOutput(out []byte) (bool, error) {
	var parsed evalOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return false, fmt.Errorf("%w: unmarshal opa output: %w", ErrEvaluationFailed, err)
	}
	if len(parsed.Result) == 0 || len(parsed.Result[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := parsed.Result[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil
	}
	return allowed, nil
}
