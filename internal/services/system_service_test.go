package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sourcelane/api/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.HealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.HealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.HealthReport{}, errors.New("collect not implemented")
}

func TestSystemServiceHealthReport(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			}, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected generated at: %s", report.GeneratedAt)
	}
}

func TestSystemServiceLogsDegradedChecks(t *testing.T) {
	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"pubsub":    {Status: domain.HealthStatusError, Detail: "deadline exceeded"},
				},
			}, nil
		},
	}

	var events []string
	svc, err := NewSystemService(SystemServiceDeps{
		Health: repo,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			events = append(events, event)
			if fields["check"] != "pubsub" {
				t.Fatalf("expected pubsub check in log fields, got %v", fields["check"])
			}
		},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("health report: %v", err)
	}
	if len(events) != 1 || events[0] != "system.health.check.degraded" {
		t.Fatalf("expected one degraded log event, got %v", events)
	}
}

func TestSystemServiceCollectFailure(t *testing.T) {
	collectErr := errors.New("probe transport down")
	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.HealthReport, error) {
			return domain.HealthReport{}, collectErr
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected wrapped collect error, got %v", err)
	}
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}
