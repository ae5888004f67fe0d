package swarm

import "github.com/tjfontaine/offside-zero/internal/core/domain"

// BestFrame returns the first report adjudicated OFFSIDE, else the first
// report. The boolean is false only for an empty slice.
func BestFrame(reports []domain.FrameAnalysis) (domain.FrameAnalysis, bool) {
	if len(reports) == 0 {
		return domain.FrameAnalysis{}, false
	}
	for _, r := range reports {
		if r.RuleVerdict.Decision == domain.DecisionOffside {
			return r, true
		}
	}
	return reports[0], true
}

// BindEntities builds the entity list from one report in fixed order:
// offside line, attacker, defender. Missing or malformed sources are skipped.
func BindEntities(best domain.FrameAnalysis) []domain.Entity {
	entities := make([]domain.Entity, 0, 3)
	if best.Geometry.HasOffsideLine() {
		entities = append(entities, domain.Entity{
			Label: domain.EntityOffsideLine,
			Box:   append([]float64(nil), best.Geometry.OffsideLine...),
		})
	}
	if best.Vision.Attacker.HasBox() {
		entities = append(entities, domain.Entity{
			Label: domain.EntityAttacker,
			Box:   append([]float64(nil), best.Vision.Attacker.Box...),
		})
	}
	if best.Vision.Defender.HasBox() {
		entities = append(entities, domain.Entity{
			Label: domain.EntityDefender,
			Box:   append([]float64(nil), best.Vision.Defender.Box...),
		})
	}
	return entities
}
