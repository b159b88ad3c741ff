package pack

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/assay-sh/assay-core/pkg/evidence"
)

// CanonicalRuleID formats a rule's globally-qualified identifier,
// "name@version:rule_id", used for cross-pack collision detection and
// in findings output.
func CanonicalRuleID(p *Pack, ruleID string) string {
	return fmt.Sprintf("%s@%s:%s", p.Name, p.Version, ruleID)
}

// CheckCollisions enforces the global collision policy: no two distinct
// compliance packs may declare the same rule ID, so a finding's rule is
// attributable to exactly one compliance source. Multiple versions of
// the same pack are allowed to share rule IDs, and non-compliance packs
// (custom, community) are exempt, since a user's own pack is expected
// to be free to reuse a name.
func CheckCollisions(packs []*Pack) error {
	seen := make(map[string]*Pack)
	for _, p := range packs {
		if p.Kind != KindCompliance {
			continue
		}
		for _, r := range p.Rules {
			if owner, ok := seen[r.ID]; ok && owner.Name != p.Name {
				return &Error{Kind: KindComplianceCollision, Msg: fmt.Sprintf("rule %q declared by both %s and %s", r.ID, owner.Name, p.Name)}
			}
			seen[r.ID] = p
		}
	}
	return nil
}

// EvaluateAll runs Evaluate for every pack concurrently, enforcing
// CheckCollisions first so a colliding pack set fails fast before any
// rule executes. The merged findings come back in the same
// deterministic order regardless of which pack finished first.
func EvaluateAll(ctx context.Context, packs []*Pack, events []evidence.Event) ([]Finding, error) {
	if err := CheckCollisions(packs); err != nil {
		return nil, err
	}

	perPack := make([][]Finding, len(packs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range packs {
		g.Go(func() error {
			fs, err := Evaluate(gctx, p, events)
			if err != nil {
				return err
			}
			perPack[i] = fs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Finding
	for _, fs := range perPack {
		merged = append(merged, fs...)
	}
	SortFindings(merged)
	return merged, nil
}

// EvaluateAllRuleIDs lists every canonical rule ID a pack set declares,
// after collision checking.
func EvaluateAllRuleIDs(packs []*Pack) ([]string, error) {
	if err := CheckCollisions(packs); err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range packs {
		for _, r := range p.Rules {
			ids = append(ids, CanonicalRuleID(p, r.ID))
		}
	}
	return ids, nil
}
