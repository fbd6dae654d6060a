package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"telecare-platform/authority/internal/security"
)

const policyQuery = "data.authority.access.allow"

// Default Rego policy: allow when the caller's permission set covers every
// required permission. Deployments layer stricter rules on top via extra
// modules in the same package.
const defaultRegoPolicy = `package authority.access

default allow = false

allow if {
	required := {p | some p in input.required}
	held := {p | some p in input.permissions}
	count(required - held) == 0
}
`

// OPAEvaluator decides permission checks using OPA Rego.
type OPAEvaluator struct {
	compiler *ast.Compiler
}

// NewOPAEvaluator compiles the default access policy together with any extra
// Rego modules. Extra modules must declare package authority.access and may
// add or replace allow rules.
func NewOPAEvaluator(extraModules ...string) (*OPAEvaluator, error) {
	modules := map[string]string{"policy_0.rego": defaultRegoPolicy}
	for i, m := range extraModules {
		modules[fmt.Sprintf("policy_%d.rego", i+1)] = m
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile access policies: %w", err)
	}
	return &OPAEvaluator{compiler: compiler}, nil
}

// HealthCheck verifies that the compiled policy set evaluates against a
// minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	minimalInput := map[string]interface{}{
		"subject":     "",
		"roles":       []string{},
		"permissions": []string{},
		"required":    []string{},
	}
	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(e.compiler),
		rego.Input(minimalInput),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Allowed evaluates the access policy for the verified caller against the
// required permission set. A policy that yields no result or a non-boolean
// value denies.
func (e *OPAEvaluator) Allowed(ctx context.Context, payload *security.Payload, required []string) (bool, error) {
	input := e.buildInput(payload, required)

	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(e.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		log.Printf("policy: access query returned no result for subject %s", payload.Subject)
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil
	}
	return allowed, nil
}

func (e *OPAEvaluator) buildInput(payload *security.Payload, required []string) map[string]interface{} {
	roles := payload.Roles
	if roles == nil {
		roles = []string{}
	}
	permissions := payload.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"subject":     payload.Subject,
		"session_id":  payload.SessionID,
		"device_id":   payload.DeviceID,
		"roles":       roles,
		"permissions": permissions,
		"required":    required,
	}
}
