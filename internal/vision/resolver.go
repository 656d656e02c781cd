// File: internal/vision/resolver.go

// Package vision resolves action targets against the most recent perception
// snapshot when DOM selector resolution has come up empty. It matches on
// what the model saw, not on what the live DOM currently claims.
package vision

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/textutil"
)

// matchFloor is the minimum fuzzy score a candidate element must reach.
// Below it, resolution reports no match rather than guessing.
const matchFloor = 0.5

// Resolver implements schemas.TargetResolver.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("vision")}
}

// Resolve walks the snapshot's elements through three tiers: exact text,
// normalized substring, then role-gated token overlap. The winning element
// yields its cached CSS path when one exists, otherwise its bounding box
// for a coordinate click.
func (r *Resolver) Resolve(ctx context.Context, page schemas.PageHandle, target *schemas.Target, last *schemas.Observation) (schemas.ResolvedTarget, error) {
	if target == nil || last == nil || len(last.Elements) == 0 {
		return schemas.ResolvedTarget{}, nil
	}
	if target.Text == "" && target.Role == "" {
		return schemas.ResolvedTarget{}, nil
	}

	best, score := r.pick(target, last.Elements)
	if best == nil {
		r.logger.Debug("No element matched target",
			zap.String("text", target.Text), zap.String("role", target.Role))
		return schemas.ResolvedTarget{}, nil
	}

	r.logger.Debug("Resolved target from snapshot",
		zap.String("element_id", best.ID),
		zap.Float64("score", score),
		zap.Bool("via_css", best.CSSPath != ""))

	if best.CSSPath != "" {
		return schemas.ResolvedTarget{CSS: best.CSSPath}, nil
	}
	if best.BBox != nil {
		box := *best.BBox
		return schemas.ResolvedTarget{BBox: &box}, nil
	}
	return schemas.ResolvedTarget{}, nil
}

func (r *Resolver) pick(target *schemas.Target, elements []schemas.Element) (*schemas.Element, float64) {
	wantText := normalize(target.Text)

	// Tier 1: exact text.
	if wantText != "" {
		for i := range elements {
			if normalize(elements[i].Text) == wantText {
				return &elements[i], 1.0
			}
		}
		// Tier 2: substring, either direction. Longer labels often wrap the
		// requested text in extra decoration.
		for i := range elements {
			have := normalize(elements[i].Text)
			if have == "" {
				continue
			}
			if strings.Contains(have, wantText) || strings.Contains(wantText, have) {
				return &elements[i], 0.9
			}
		}
	}

	// Tier 3: token overlap, gated on role when one was requested.
	tokens := textutil.SignificantTokens(target.Text)
	var best *schemas.Element
	bestScore := 0.0
	for i := range elements {
		el := &elements[i]
		if target.Role != "" && el.Role != target.Role {
			continue
		}
		score := textutil.Overlap(tokens, el.Text)
		if target.Role != "" && target.Text == "" {
			// Role-only targets match the first element of that role.
			score = matchFloor
		}
		if score > bestScore {
			best, bestScore = el, score
		}
	}
	if bestScore < matchFloor {
		return nil, 0
	}
	return best, bestScore
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

var _ schemas.TargetResolver = (*Resolver)(nil)
