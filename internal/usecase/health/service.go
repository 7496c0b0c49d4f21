package health

import (
	"context"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates that every component failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// probeTimeout bounds each component probe so a hung backend cannot stall /health.
const probeTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type probe struct {
	name  string
	check func(ctx context.Context) error
}

// Service coordinates health checks.
type Service struct {
	probes []probe
}

// New creates a Service. backend can be nil.
func New(db DBPinger, backend BackendChecker) *Service {
	s := &Service{probes: []probe{{name: "database", check: db.Ping}}}
	if backend != nil {
		s.probes = append(s.probes, probe{name: "backend", check: backend.HealthCheck})
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.probes))
	failed := 0

	for _, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.check(pctx)
		cancel()

		if err != nil {
			checks[p.name] = CheckError
			failed++
			continue
		}
		checks[p.name] = CheckOK
	}

	status := Healthy
	switch {
	case failed == len(s.probes) && len(s.probes) > 1:
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}
