package swarm

import "fmt"

// ScaleAction is an auto-scale recommendation.
type ScaleAction string

// Scale actions.
const (
	ScaleNone      ScaleAction = "None"
	ScaleUp        ScaleAction = "Up"
	ScaleDown      ScaleAction = "Down"
	ScaleEmergency ScaleAction = "Emergency"
)

// ScaleRecommendation is advisory; the caller decides whether to act.
type ScaleRecommendation struct {
	Action     ScaleAction
	Delta      int
	Reason     string
	Confidence float64
}

// RecommendAutoScale inspects the assignment queue depth, the live agent
// count, and swarm health, and recommends a scaling action. Disabled
// auto-scaling always recommends None.
func (p *Policy) RecommendAutoScale(queueDepth int, healthy bool) *ScaleRecommendation {
	cfg := p.cfg.AutoScaling
	if !cfg.Enabled {
		return &ScaleRecommendation{Action: ScaleNone, Reason: "auto-scaling disabled", Confidence: 1.0}
	}

	active := p.ActiveAgents()

	switch {
	case cfg.ScaleUpThreshold > 0 && queueDepth > 3*cfg.ScaleUpThreshold:
		return &ScaleRecommendation{
			Action:     ScaleEmergency,
			Delta:      2 * cfg.ScaleUpIncrement,
			Reason:     fmt.Sprintf("queue depth %d is over 3x the scale-up threshold", queueDepth),
			Confidence: 0.95,
		}
	case queueDepth > cfg.ScaleUpThreshold:
		return &ScaleRecommendation{
			Action:     ScaleUp,
			Delta:      cfg.ScaleUpIncrement,
			Reason:     fmt.Sprintf("queue depth %d exceeds scale-up threshold %d", queueDepth, cfg.ScaleUpThreshold),
			Confidence: 0.8,
		}
	case queueDepth < cfg.ScaleDownThreshold && active > cfg.MinAgents:
		return &ScaleRecommendation{
			Action:     ScaleDown,
			Delta:      cfg.ScaleDownIncrement,
			Reason:     fmt.Sprintf("queue depth %d below scale-down threshold %d with %d active agents", queueDepth, cfg.ScaleDownThreshold, active),
			Confidence: 0.7,
		}
	}

	if !healthy {
		return &ScaleRecommendation{
			Action:     ScaleUp,
			Delta:      1,
			Reason:     "swarm health below minimum success rate",
			Confidence: 0.5,
		}
	}

	return &ScaleRecommendation{Action: ScaleNone, Reason: "within thresholds", Confidence: 0.9}
}
