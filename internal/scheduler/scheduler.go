// Package scheduler runs the monthly billing batch: every billable landlord
// subscription gets one idempotent invoice-generation attempt for the
// previous calendar month, with per-landlord failures isolated from the rest
// of the batch.
package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/nyumbanilabs/nyumbani/internal/clock"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/observability/metrics"
	"github.com/nyumbanilabs/nyumbani/internal/period"
	serviceinvoice "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/service"
	subscriptiondomain "github.com/nyumbanilabs/nyumbani/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// LandlordResult is one landlord's outcome within a billing run.
type LandlordResult struct {
	LandlordID snowflake.ID  `json:"landlord_id"`
	InvoiceID  *snowflake.ID `json:"invoice_id,omitempty"`
	Amount     money.Amount  `json:"amount"`
	Created    bool          `json:"created"`
	Skipped    bool          `json:"skipped"`
	Err        string        `json:"error,omitempty"`
}

// BillingRunResult aggregates a whole run. Re-running for the same period
// reproduces the successes as skips.
type BillingRunResult struct {
	RunID       string           `json:"run_id"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Processed   int              `json:"processed"`
	Succeeded   int              `json:"succeeded"`
	Skipped     int              `json:"skipped"`
	Failed      int              `json:"failed"`
	Disabled    bool             `json:"disabled,omitempty"`
	Results     []LandlordResult `json:"results"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	generator serviceinvoice.Generator
	policy    *config.BillingPolicyHolder
	metrics   *metrics.Metrics
	interval  time.Duration
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Generator serviceinvoice.Generator
	Policy    *config.BillingPolicyHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

func New(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("scheduler"),
		clock:     p.Clock,
		generator: p.Generator,
		policy:    p.Policy,
		metrics:   p.Metrics,
		interval:  24 * time.Hour,
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
)

// RunMonthlyBilling bills every trial or active subscription for the
// previous calendar month. One landlord's failure never aborts the batch;
// it is recorded in that landlord's result entry instead.
func (s *Service) RunMonthlyBilling(ctx context.Context) (BillingRunResult, error) {
	runID := uuid.NewString()
	now := s.clock.Now()
	p := period.PreviousMonth(now)
	policy := s.policy.Get()

	result := BillingRunResult{
		RunID:       runID,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		StartedAt:   now,
	}

	log := s.log.With(
		zap.String("run_id", runID),
		zap.Time("period_start", p.Start),
		zap.Time("period_end", p.End),
	)

	if !policy.AutomatedBillingEnabled {
		log.Info("automated billing disabled, skipping run")
		result.Disabled = true
		result.FinishedAt = s.clock.Now()
		return result, nil
	}

	var subscriptions []subscriptiondomain.LandlordSubscription
	err := s.db.WithContext(ctx).
		Where("status IN ?", []subscriptiondomain.Status{
			subscriptiondomain.StatusTrial,
			subscriptiondomain.StatusActive,
		}).
		Order("landlord_id ASC").
		Find(&subscriptions).Error
	if err != nil {
		return result, err
	}

	log.Info("billing run started", zap.Int("subscriptions", len(subscriptions)))

	workers := policy.BillingWorkers
	if workers < 1 {
		workers = 1
	}

	results := make([]LandlordResult, len(subscriptions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sub := range subscriptions {
		i, sub := i, sub
		g.Go(func() error {
			results[i] = s.billLandlord(gctx, sub, p)
			// Failures are data, not errors: returning one would cancel
			// the rest of the batch.
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		result.Processed++
		switch {
		case r.Err != "":
			result.Failed++
		case r.Created:
			result.Succeeded++
		default:
			result.Skipped++
		}
	}
	result.Results = results
	result.FinishedAt = s.clock.Now()

	s.metrics.RecordBillingRun(ctx, result.FinishedAt.Sub(result.StartedAt), result.Failed)
	log.Info("billing run finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (s *Service) billLandlord(ctx context.Context, sub subscriptiondomain.LandlordSubscription, p period.Period) LandlordResult {
	result := LandlordResult{LandlordID: sub.LandlordID}

	invoice, created, err := s.generator.GenerateInvoice(ctx, sub.LandlordID, p)
	if err != nil {
		s.log.Warn("landlord billing failed",
			zap.Int64("landlord_id", int64(sub.LandlordID)),
			zap.Error(err),
		)
		result.Err = err.Error()
		return result
	}

	if invoice == nil {
		// Below the minimum charge: the period produces no invoice.
		result.Skipped = true
	} else {
		invoiceID := invoice.ID
		result.InvoiceID = &invoiceID
		result.Amount = invoice.Amount
		result.Created = created
		result.Skipped = !created
	}

	s.advanceNextBillingDate(ctx, sub)
	return result
}

func (s *Service) advanceNextBillingDate(ctx context.Context, sub subscriptiondomain.LandlordSubscription) {
	next := period.Of(s.clock.Now()).NextStart()
	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.LandlordSubscription{}).
		Where("id = ?", sub.ID).
		Update("next_billing_date", next).Error
	if err != nil {
		s.log.Warn("failed to advance next billing date",
			zap.Int64("landlord_id", int64(sub.LandlordID)),
			zap.Error(err),
		)
	}
}

// RunForever ticks daily and fires the monthly run. Invoice generation is
// idempotent per landlord and period, so firing more often than the month
// rolls over is safe.
func (s *Service) RunForever(ctx context.Context) {
	s.log.Info("scheduler loop started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunMonthlyBilling(ctx); err != nil {
				s.log.Error("scheduled billing run failed", zap.Error(err))
			}
		}
	}
}

// Start wires RunForever into the fx lifecycle.
func Start(lc fx.Lifecycle, s *Service) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
