package pack

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/assay-sh/assay-core/pkg/evidence"
)

// Evaluate runs every rule in p against events, returning the findings
// produced, sorted deterministically. A rule whose check kind fails to
// compile (bad CEL expression, bad WASM module) produces a single
// error-severity finding describing the compile failure rather than
// aborting the whole evaluation, so one broken rule in a pack does not
// hide findings from the rest.
func Evaluate(ctx context.Context, p *Pack, events []evidence.Event) ([]Finding, error) {
	var findings []Finding
	for _, rule := range p.Rules {
		fs, err := evaluateRule(ctx, p, rule, events)
		if err != nil {
			findings = append(findings, Finding{
				RuleID: CanonicalRuleID(p, rule.ID), PackName: p.Name, PackVersion: p.Version,
				Severity: SeverityError, Message: fmt.Sprintf("rule %s failed to evaluate: %v", rule.ID, err),
				HelpURI: rule.HelpURI,
			})
			continue
		}
		findings = append(findings, fs...)
	}
	SortFindings(findings)
	return findings, nil
}

func evaluateRule(ctx context.Context, p *Pack, rule Rule, events []evidence.Event) ([]Finding, error) {
	switch rule.Check.Kind {
	case CheckEventCount:
		return evalEventCount(p, rule, events), nil
	case CheckFieldEquals:
		return evalFieldEquals(p, rule, events)
	case CheckPattern:
		return evalPattern(p, rule, events)
	case CheckCEL:
		return evalCEL(p, rule, events)
	case CheckWasm:
		return evalWasm(ctx, p, rule, events)
	default:
		return nil, fmt.Errorf("unknown check kind %q", rule.Check.Kind)
	}
}

func matchingEvents(events []evidence.Event, eventType *string) []evidence.Event {
	if eventType == nil || *eventType == "" {
		return events
	}
	var out []evidence.Event
	for _, e := range events {
		if e.Type == *eventType {
			out = append(out, e)
		}
	}
	return out
}

func finding(p *Pack, rule Rule, msg, eventID string) Finding {
	return Finding{
		RuleID: CanonicalRuleID(p, rule.ID), PackName: p.Name, PackVersion: p.Version,
		Severity: rule.Severity, Message: msg, EventID: eventID, HelpURI: rule.HelpURI,
	}
}

func evalEventCount(p *Pack, rule Rule, events []evidence.Event) []Finding {
	matched := matchingEvents(events, rule.Check.EventType)
	n := len(matched)
	if rule.Check.Min != nil && n < *rule.Check.Min {
		return []Finding{finding(p, rule, fmt.Sprintf("expected at least %d matching events, found %d", *rule.Check.Min, n), "")}
	}
	if rule.Check.Max != nil && n > *rule.Check.Max {
		return []Finding{finding(p, rule, fmt.Sprintf("expected at most %d matching events, found %d", *rule.Check.Max, n), "")}
	}
	return nil
}

func eventAsMap(e evidence.Event) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func lookupField(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, key := range splitPath(path) {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func evalFieldEquals(p *Pack, rule Rule, events []evidence.Event) ([]Finding, error) {
	var findings []Finding
	for _, e := range matchingEvents(events, rule.Check.EventType) {
		m, err := eventAsMap(e)
		if err != nil {
			return nil, err
		}
		got, ok := lookupField(m, rule.Check.Field)
		if !ok {
			findings = append(findings, finding(p, rule, fmt.Sprintf("field %q missing", rule.Check.Field), e.ID))
			continue
		}
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(rule.Check.Equals)
		if string(gotJSON) != string(wantJSON) {
			findings = append(findings, finding(p, rule, fmt.Sprintf("field %q = %s, want %s", rule.Check.Field, gotJSON, wantJSON), e.ID))
		}
	}
	return findings, nil
}

func evalPattern(p *Pack, rule Rule, events []evidence.Event) ([]Finding, error) {
	re, err := regexp.Compile(rule.Check.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	var findings []Finding
	for _, e := range matchingEvents(events, rule.Check.EventType) {
		m, err := eventAsMap(e)
		if err != nil {
			return nil, err
		}
		got, ok := lookupField(m, rule.Check.Field)
		if !ok {
			findings = append(findings, finding(p, rule, fmt.Sprintf("field %q missing", rule.Check.Field), e.ID))
			continue
		}
		s, ok := got.(string)
		if !ok {
			s = fmt.Sprintf("%v", got)
		}
		if !re.MatchString(s) {
			findings = append(findings, finding(p, rule, fmt.Sprintf("field %q value %q does not match pattern %q", rule.Check.Field, s, rule.Check.Pattern), e.ID))
		}
	}
	return findings, nil
}

func evalCEL(p *Pack, rule Rule, events []evidence.Event) ([]Finding, error) {
	env, err := cel.NewEnv(cel.Variable("event", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(rule.Check.Expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	var findings []Finding
	for _, e := range matchingEvents(events, rule.Check.EventType) {
		m, err := eventAsMap(e)
		if err != nil {
			return nil, err
		}
		out, _, err := prg.Eval(map[string]any{"event": m})
		if err != nil {
			return nil, fmt.Errorf("cel eval: %w", err)
		}
		pass, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("cel expression %q did not evaluate to a bool", rule.Check.Expression)
		}
		if !pass {
			findings = append(findings, finding(p, rule, fmt.Sprintf("expression %q failed", rule.Check.Expression), e.ID))
		}
	}
	return findings, nil
}

// evalWasm runs a compiled WASM module once per matching event. The
// module's exported Function receives the event's JSON encoding
// (encoding/json, not JCS) written into guest memory at the address returned by the module's
// exported "alloc" function, and returns an i32: 0 means the event
// satisfies the rule, nonzero fails it.
func evalWasm(ctx context.Context, p *Pack, rule Rule, events []evidence.Event) ([]Finding, error) {
	moduleBytes, err := base64.StdEncoding.DecodeString(rule.Check.ModuleBase64)
	if err != nil {
		return nil, fmt.Errorf("decode wasm module: %w", err)
	}

	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("compile wasm module: %w", err)
	}

	var findings []Finding
	for _, e := range matchingEvents(events, rule.Check.EventType) {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		pass, err := runWasmCheck(ctx, runtime, compiled, rule.Check.Function, payload)
		if err != nil {
			return nil, fmt.Errorf("invoke wasm function %q: %w", rule.Check.Function, err)
		}
		if !pass {
			findings = append(findings, finding(p, rule, fmt.Sprintf("wasm check %q failed", rule.Check.Function), e.ID))
		}
	}
	return findings, nil
}

func runWasmCheck(ctx context.Context, runtime wazero.Runtime, compiled wazero.CompiledModule, function string, payload []byte) (bool, error) {
	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		return false, err
	}
	defer mod.Close(ctx)

	alloc := mod.ExportedFunction("alloc")
	check := mod.ExportedFunction(function)
	if alloc == nil || check == nil {
		return false, fmt.Errorf("module must export alloc and %q", function)
	}

	res, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return false, err
	}
	ptr := uint32(res[0])

	mem := mod.Memory()
	if !mem.Write(ptr, payload) {
		return false, fmt.Errorf("failed to write payload into guest memory")
	}

	out, err := check.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return false, err
	}
	return int32(out[0]) == 0, nil
}
