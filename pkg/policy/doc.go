// Package policy gates plans with OPA. Policies are Rego modules whose
// deny rules match against a plan document: input.run carries the run
// parameters (targets, parallel, fail_percent) and input.operations the
// ordered steps with their host scopes and call settings.
//
// Three builtin policies ship with every engine: sudo on
// production-group hosts, destructive shell commands, and a
// target-count ceiling. More load from .rego or .json files, with
// optional fsnotify-driven reload.
//
// A blocking result carries every deny reason:
//
//	input := policy.BuildInput(p, policy.RunInput{
//		Parallel:    cfg.Parallel,
//		FailPercent: cfg.FailPercent,
//	})
//	res, err := eng.EvaluatePlan(ctx, input)
//	if err != nil {
//		return err
//	}
//	if err := res.Err(); err != nil {
//		return fmt.Errorf("plan rejected by policy: %w", err)
//	}
package policy
