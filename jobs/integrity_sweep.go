package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/shared"
)

// SweepMetrics is the observability slice the sweeper reports into.
type SweepMetrics interface {
	IntegrityFailure(flavor string)
}

// IntegritySweeper re-validates stored audit hashes page by page. A record
// whose recomputed hash differs from the stored value has been tampered
// with or corrupted; the sweeper reports it and never repairs it.
type IntegritySweeper struct {
	pool     *pgxpool.Pool
	repo     *audit.Repository
	writer   *audit.Writer
	metrics  SweepMetrics
	logger   *slog.Logger
	pageSize int
}

// NewIntegritySweeper constructs an IntegritySweeper.
func NewIntegritySweeper(pool *pgxpool.Pool, repo *audit.Repository, writer *audit.Writer, metrics SweepMetrics, logger *slog.Logger, pageSize int) *IntegritySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &IntegritySweeper{pool: pool, repo: repo, writer: writer, metrics: metrics, logger: logger, pageSize: pageSize}
}

// Handle processes a TaskIntegritySweep task.
func (s *IntegritySweeper) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntegritySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	flavors := selectFlavors(payload.Flavors)
	pageSize := payload.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	// Trails are independent tables; sweep them concurrently.
	var mu sync.Mutex
	var checked, violations int
	g, gctx := errgroup.WithContext(ctx)
	for _, flavor := range flavors {
		flavor := flavor
		g.Go(func() error {
			c, v, err := s.sweepFlavor(gctx, flavor, pageSize)
			mu.Lock()
			checked += c
			violations += v
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("sweep %s: %w", flavor, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("integrity sweep finished",
		slog.Int("checked", checked),
		slog.Int("violations", violations),
	)
	if violations > 0 {
		cause := fmt.Errorf("%d of %d audit records failed hash re-validation: %w", violations, checked, shared.ErrIntegrityViolation)
		if _, err := s.writer.WriteFailureDiagnostic(ctx, s.pool, 0, "audit.integrity_sweep", cause); err != nil {
			s.logger.Error("record sweep diagnostic", slog.Any("error", err))
		}
	}
	return nil
}

func (s *IntegritySweeper) sweepFlavor(ctx context.Context, flavor audit.Flavor, pageSize int) (checked, violations int, err error) {
	var afterID int64
	for {
		records, err := s.repo.Page(ctx, flavor, afterID, pageSize)
		if err != nil {
			return checked, violations, err
		}
		if len(records) == 0 {
			return checked, violations, nil
		}
		for _, rec := range records {
			checked++
			if !s.writer.ValidateIntegrity(rec) {
				violations++
				if s.metrics != nil {
					s.metrics.IntegrityFailure(string(rec.Flavor))
				}
				s.logger.Error("audit record failed integrity check",
					slog.String("flavor", string(rec.Flavor)),
					slog.Int64("id", rec.ID),
					slog.String("action", rec.Action),
				)
			}
			afterID = rec.ID
		}
	}
}

func selectFlavors(names []string) []audit.Flavor {
	if len(names) == 0 {
		return audit.Flavors()
	}
	known := make(map[audit.Flavor]bool)
	for _, f := range audit.Flavors() {
		known[f] = true
	}
	var flavors []audit.Flavor
	for _, name := range names {
		flavor := audit.Flavor(strings.ToUpper(strings.TrimSpace(name)))
		if known[flavor] {
			flavors = append(flavors, flavor)
		}
	}
	if len(flavors) == 0 {
		return audit.Flavors()
	}
	return flavors
}
