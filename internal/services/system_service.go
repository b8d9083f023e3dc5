package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/sourcelane/api/internal/domain"
	"github.com/sourcelane/api/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	health repositories.HealthRepository
	logger func(context.Context, string, map[string]any)
}

var _ SystemService = (*systemService)(nil)

// NewSystemService wires dependencies into a concrete SystemService implementation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &systemService{
		health: deps.Health,
		logger: logger,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("system: collect health: %w", err)
	}

	for name, check := range report.Checks {
		if check.Status == domain.HealthStatusOK {
			continue
		}
		s.logger(ctx, "system.health.check.degraded", map[string]any{
			"check":  name,
			"status": string(check.Status),
			"detail": check.Detail,
		})
	}
	return report, nil
}
