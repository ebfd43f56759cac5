package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scripe/leadgen/internal/cascade"
	"github.com/scripe/leadgen/internal/credit"
	"github.com/scripe/leadgen/internal/estimate"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/internal/quality"
	"github.com/scripe/leadgen/internal/store"
)

// Config tunes the controller.
type Config struct {
	// BatchSize is how many dirty leads accumulate before a validate,
	// score, and persist pass.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`

	// ScorerWeights override the default quality weights when non-zero.
	ScorerWeights quality.Weights `yaml:"scorer_weights" mapstructure:"scorer_weights"`
}

// Controller owns the lifecycle of runs: it reserves credits, spawns the run
// task, persists leads incrementally, and settles the reservation at every
// terminal state.
type Controller struct {
	store   store.Store
	ledger  credit.Ledger
	orch    *cascade.Orchestrator
	events  *Events
	mailbox quality.MailboxProber
	cfg     Config

	// validator construction, injectable for tests
	newValidator func(policy quality.TierPolicy) *quality.Validator

	mu     sync.Mutex
	active map[string]*task
	wg     sync.WaitGroup
}

type task struct {
	cancel     context.CancelFunc
	userCancel atomic.Bool
}

// NewController wires the controller. mailbox may be nil; premium mailbox
// probes are skipped without it.
func NewController(st store.Store, ledger credit.Ledger, orch *cascade.Orchestrator, events *Events, mailbox quality.MailboxProber, cfg Config) *Controller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	c := &Controller{
		store:   st,
		ledger:  ledger,
		orch:    orch,
		events:  events,
		mailbox: mailbox,
		cfg:     cfg,
		active:  make(map[string]*task),
	}
	c.newValidator = func(policy quality.TierPolicy) *quality.Validator {
		return quality.NewValidator(policy, nil, nil, c.mailbox)
	}
	return c
}

// Events exposes the progress hub for the API layer.
func (c *Controller) Events() *Events {
	return c.events
}

// Start validates the search, reserves credits, and creates the run. On any
// failure after the reservation the hold is returned and no run row remains.
// The run task itself executes in the background; the returned run is the
// pending snapshot.
func (c *Controller) Start(ctx context.Context, searchID, userID string) (*model.Run, error) {
	search, err := c.store.GetSearch(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if search.UserID != userID {
		return nil, store.ErrNotFound
	}
	if err := search.Request.Validate(); err != nil {
		return nil, err
	}

	est := estimate.ForRequest(search.Request)
	res, err := c.ledger.Reserve(ctx, userID, est.ExpectedCostCredit, searchID)
	if err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:            uuid.NewString(),
		SearchID:      searchID,
		UserID:        userID,
		Status:        model.RunPending,
		ReservationID: res.ID,
		StartedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		if _, refundErr := c.ledger.Refund(ctx, res.ID); refundErr != nil {
			zap.L().Error("run: refund after create failure",
				zap.String("reservation_id", res.ID),
				zap.Error(refundErr),
			)
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel}
	c.mu.Lock()
	c.active[run.ID] = t
	c.mu.Unlock()

	c.wg.Add(1)
	go c.execute(runCtx, t, run, search)

	zap.L().Info("run: started",
		zap.String("run_id", run.ID),
		zap.String("search_id", searchID),
		zap.Float64("reserved_credits", res.Amount),
	)
	return run, nil
}

// Cancel requests cooperative cancellation. Calling it again while the
// cancel is in flight, or after the run ended, returns the current snapshot
// without error.
func (c *Controller) Cancel(ctx context.Context, runID, userID string) (*model.Run, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, store.ErrNotFound
	}
	if run.Status.Terminal() {
		return run, nil
	}

	c.mu.Lock()
	t, live := c.active[runID]
	c.mu.Unlock()
	if live {
		t.userCancel.Store(true)
		t.cancel()
		return run, nil
	}

	// No task owns this run (e.g. the process restarted mid-run). Settle it
	// here like an early completion over whatever was persisted.
	return c.settleOrphan(ctx, run)
}

// Wait blocks until all run tasks have finished. Test and shutdown hook.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) settleOrphan(ctx context.Context, run *model.Run) (*model.Run, error) {
	search, err := c.store.GetSearch(ctx, run.SearchID)
	if err != nil {
		return nil, err
	}
	policy := quality.PolicyFor(search.Request.Tier)

	delivered, err := c.store.CountLeads(ctx, run.SearchID, store.LeadFilter{})
	if err != nil {
		return nil, err
	}

	settlement, err := c.ledger.Finalize(ctx, run.ReservationID, float64(delivered)*policy.CostPerLead)
	if err != nil && !errors.Is(err, credit.ErrReservationSettled) {
		return nil, err
	}

	if err := Transition(run, model.RunCancelled); err != nil {
		return nil, err
	}
	run.Reason = "cancelled by user"
	if settlement != nil {
		run.Reconciliation = &model.Reconciliation{
			ReservedCredits: settlement.Reserved,
			DebitedCredits:  settlement.Debited,
			RefundedCredits: settlement.Refunded,
		}
	}
	now := time.Now().UTC()
	run.EndedAt = &now
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// execute is the run task. It owns all writes to the run row.
func (c *Controller) execute(ctx context.Context, t *task, run *model.Run, search *model.Search) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.active, run.ID)
		c.mu.Unlock()
	}()

	// persistence must survive a user cancel so drained work is not lost
	persistCtx := context.Background()

	policy := quality.PolicyFor(search.Request.Tier)
	validator := c.newValidator(policy)
	scorer := quality.NewScorer(c.cfg.ScorerWeights)

	if err := Transition(run, model.RunRunning); err != nil {
		zap.L().Error("run: start transition", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if err := c.store.UpdateRun(persistCtx, run); err != nil {
		c.finish(persistCtx, t, run, policy, 0, eris.Wrap(err, "run: persist running status"))
		return
	}
	c.appendEvent(persistCtx, run, 0, "", 0, "run started")

	sink := newLeadSink(c.store, validator, scorer, search.Request, policy, c.cfg.BatchSize)

	result, cascErr := c.orch.Run(ctx, search.ID, search.Request, policy,
		sink.offer,
		func(u cascade.Update) {
			c.appendEvent(persistCtx, run, u.Percent, u.CurrentSource, u.Found, "")
		},
	)

	// drain and persist whatever the cascade produced before it stopped
	flushErr := sink.flush(persistCtx)

	delivered, discarded := sink.counts()
	run.FoundCount = delivered
	run.DiscardedCount = discarded

	switch {
	case flushErr != nil:
		c.finish(persistCtx, t, run, policy, delivered, flushErr)
	case cascErr != nil:
		c.finish(persistCtx, t, run, policy, delivered, cascErr)
	case delivered == 0 && result.SourceCalls > 0 && result.SourceErrors == result.SourceCalls:
		c.finish(persistCtx, t, run, policy, delivered, eris.New("run: all sources failed"))
	default:
		c.finish(persistCtx, t, run, policy, delivered, nil)
	}
}

// finish settles credits and writes the terminal state. cause nil means the
// cascade completed; context.Canceled with the user flag set means a user
// cancel; anything else fails the run with a full refund.
func (c *Controller) finish(ctx context.Context, t *task, run *model.Run, policy quality.TierPolicy, delivered int, cause error) {
	var target model.RunStatus
	var reason string
	var settlement *credit.Settlement
	var settleErr error

	switch {
	case cause == nil:
		target = model.RunCompleted
		reason = fmt.Sprintf("delivered %d leads", delivered)
		settlement, settleErr = c.ledger.Finalize(ctx, run.ReservationID, float64(delivered)*policy.CostPerLead)
	case errors.Is(cause, context.Canceled) && t.userCancel.Load():
		target = model.RunCancelled
		reason = "cancelled by user"
		settlement, settleErr = c.ledger.Finalize(ctx, run.ReservationID, float64(delivered)*policy.CostPerLead)
	default:
		target = model.RunFailed
		reason = cause.Error()
		settlement, settleErr = c.ledger.Refund(ctx, run.ReservationID)
	}

	if settleErr != nil && !errors.Is(settleErr, credit.ErrReservationSettled) {
		zap.L().Error("run: credit settlement failed",
			zap.String("run_id", run.ID),
			zap.String("reservation_id", run.ReservationID),
			zap.Error(settleErr),
		)
	}

	if err := Transition(run, target); err != nil {
		zap.L().Error("run: terminal transition", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	run.Reason = reason
	if settlement != nil {
		run.Reconciliation = &model.Reconciliation{
			ReservedCredits: settlement.Reserved,
			DebitedCredits:  settlement.Debited,
			RefundedCredits: settlement.Refunded,
		}
	}
	now := time.Now().UTC()
	run.EndedAt = &now
	run.CurrentSource = ""
	if target == model.RunCompleted {
		run.Progress = 100
	}

	if err := c.store.UpdateRun(ctx, run); err != nil {
		zap.L().Error("run: persist terminal state", zap.String("run_id", run.ID), zap.Error(err))
	}
	c.appendEvent(ctx, run, run.Progress, "", run.FoundCount, reason)

	zap.L().Info("run: finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("found", run.FoundCount),
		zap.Int("discarded", run.DiscardedCount),
		zap.String("reason", reason),
	)
}

// appendEvent logs a progress event and mirrors it onto the run row, so a
// polling reader sees the same numbers as a stream subscriber.
func (c *Controller) appendEvent(ctx context.Context, run *model.Run, progress int, currentSource string, found int, message string) {
	if progress > run.Progress {
		run.Progress = progress
	}
	run.CurrentSource = currentSource
	run.FoundCount = found
	if !run.Status.Terminal() {
		if err := c.store.UpdateRun(ctx, run); err != nil {
			zap.L().Warn("run: persist progress", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if c.events == nil {
		return
	}
	ev := &model.ProgressEvent{
		RunID:         run.ID,
		Status:        run.Status,
		Progress:      progress,
		CurrentSource: currentSource,
		FoundCount:    found,
		Message:       message,
		At:            time.Now().UTC(),
	}
	if err := c.events.Append(ctx, ev); err != nil {
		zap.L().Warn("run: append event", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// leadSink batches dirty leads and runs the validate-score-persist pass.
// offer is called from cascade goroutines; flushes happen inline once the
// batch fills, which also backpressures the cascade against the store.
type leadSink struct {
	store     store.Store
	validator *quality.Validator
	scorer    *quality.Scorer
	req       model.SearchRequest
	policy    quality.TierPolicy
	batchSize int

	mu        sync.Mutex
	dirty     map[string]*model.LeadRecord
	persisted map[string]bool // lead id -> below threshold at last persist
	below     map[string]bool
	flushErr  error
}

func newLeadSink(st store.Store, v *quality.Validator, s *quality.Scorer, req model.SearchRequest, policy quality.TierPolicy, batchSize int) *leadSink {
	return &leadSink{
		store:     st,
		validator: v,
		scorer:    s,
		req:       req,
		policy:    policy,
		batchSize: batchSize,
		dirty:     make(map[string]*model.LeadRecord),
		persisted: make(map[string]bool),
		below:     make(map[string]bool),
	}
}

func (s *leadSink) offer(lead *model.LeadRecord, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushErr != nil {
		return
	}
	s.dirty[lead.ID] = lead
	if len(s.dirty) >= s.batchSize {
		s.flushLocked(context.Background())
	}
}

func (s *leadSink) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(ctx)
	return s.flushErr
}

func (s *leadSink) flushLocked(ctx context.Context) {
	if s.flushErr != nil || len(s.dirty) == 0 {
		return
	}

	batch := make([]*model.LeadRecord, 0, len(s.dirty))
	for _, lead := range s.dirty {
		s.validator.Validate(ctx, lead)
		s.scorer.Apply(lead, s.req, s.policy)
		batch = append(batch, lead)
	}

	if err := s.store.UpsertLeads(ctx, batch); err != nil {
		s.flushErr = eris.Wrap(err, "run: persist lead batch")
		return
	}
	for _, lead := range batch {
		s.persisted[lead.ID] = true
		s.below[lead.ID] = lead.BelowThreshold
	}
	s.dirty = make(map[string]*model.LeadRecord)
}

// counts returns persisted leads above and below the tier threshold.
func (s *leadSink) counts() (delivered, discarded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.persisted {
		if s.below[id] {
			discarded++
		} else {
			delivered++
		}
	}
	return delivered, discarded
}
