package ai

import "strings"

type TaskKind string

const (
	TaskExtract TaskKind = "extract"
	TaskWrite   TaskKind = "write"
	TaskRepair  TaskKind = "repair"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

// ModelRouterConfig names the model per pipeline stage. Fallback models are
// empty unless configured: a stage makes exactly one provider call by default.
type ModelRouterConfig struct {
	ExtractPrimary  string
	ExtractFallback string

	WritePrimary  string
	WriteFallback string

	RepairPrimary  string
	RepairFallback string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.ExtractPrimary) == "" {
		config.ExtractPrimary = "gpt-4.1"
	}
	if strings.TrimSpace(config.WritePrimary) == "" {
		config.WritePrimary = "gpt-4.1-mini"
	}
	if strings.TrimSpace(config.RepairPrimary) == "" {
		config.RepairPrimary = "gpt-4.1-mini"
	}

	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskExtract:
		return ModelProfile{
			PrimaryModel:    r.config.ExtractPrimary,
			FallbackModel:   r.config.ExtractFallback,
			Temperature:     0,
			MaxOutputTokens: 2000,
		}
	case TaskWrite:
		return ModelProfile{
			PrimaryModel:    r.config.WritePrimary,
			FallbackModel:   r.config.WriteFallback,
			Temperature:     0.2,
			MaxOutputTokens: 900,
		}
	case TaskRepair:
		return ModelProfile{
			PrimaryModel:    r.config.RepairPrimary,
			FallbackModel:   r.config.RepairFallback,
			Temperature:     0,
			MaxOutputTokens: 2000,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.WritePrimary,
			FallbackModel:   r.config.WriteFallback,
			Temperature:     0.2,
			MaxOutputTokens: 900,
		}
	}
}
