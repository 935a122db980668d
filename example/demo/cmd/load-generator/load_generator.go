// Package main implements a load generator for the aggregate EventStore. It runs a banking and user profile
// workload against the configured storage engine at a configurable request rate.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/example/account"
	"github.com/AntonStoeckl/aggregate-eventstore-go/example/shared/shell"
	"github.com/AntonStoeckl/aggregate-eventstore-go/example/user"
)

const (
	scenarioDeposit  = "deposit"
	scenarioWithdraw = "withdraw"
	scenarioTransfer = "transfer"
	scenarioProfile  = "update_profile"

	operationTimeout = 5 * time.Second
	maxAmount        = 500
)

// LoadGenerator drives commands against a fixed set of accounts and users with a target request rate.
type LoadGenerator struct {
	es      *eventstore.EventStore
	handler *shell.CommandHandler
	config  Config
	logger  *slog.Logger

	accountIDs []int64
	emails     []string

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool

	requestCount  atomic.Int64
	rejectedCount atomic.Int64
	errorCount    atomic.Int64
	startTime     time.Time
}

// NewLoadGenerator creates a LoadGenerator. Call Setup before Start.
func NewLoadGenerator(es *eventstore.EventStore, handler *shell.CommandHandler, config Config, logger *slog.Logger) *LoadGenerator {
	return &LoadGenerator{
		es:       es,
		handler:  handler,
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Setup opens the accounts and registers the users the scenarios work on.
func (lg *LoadGenerator) Setup(ctx context.Context) error {
	for i := 0; i < lg.config.Accounts; i++ {
		var id int64

		err := lg.handler.Handle(ctx, "open_account", func(ctx context.Context, ec *eventstore.EventContext) error {
			a, err := account.New(ctx, ec)
			if err != nil {
				return err
			}

			id = a.ID()

			return a.Deposit(lg.config.InitialBalance)
		})
		if err != nil {
			return fmt.Errorf("opening account %d failed: %w", i+1, err)
		}

		lg.accountIDs = append(lg.accountIDs, id)
	}

	for i := 0; i < lg.config.Users; i++ {
		email := fmt.Sprintf("user-%d@example.com", i+1)

		err := lg.handler.Handle(ctx, "register_user", func(ctx context.Context, ec *eventstore.EventContext) error {
			_, err := user.Register(ctx, ec, fmt.Sprintf("User %d", i+1), email, uuid.NewString())
			return err
		})
		if err != nil {
			return fmt.Errorf("registering %s failed: %w", email, err)
		}

		lg.emails = append(lg.emails, email)
	}

	lg.logger.Info("load generator setup done", "accounts", len(lg.accountIDs), "users", len(lg.emails))

	return nil
}

// Start runs scenarios at the configured rate until ctx is canceled or Stop is called.
func (lg *LoadGenerator) Start(ctx context.Context) error {
	lg.startTime = time.Now()

	interval := time.Second / time.Duration(lg.config.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg.logger.Info("load generator starting",
		"rate", lg.config.Rate,
		"interval", interval.String(),
		"goroutines", runtime.NumGoroutine(),
	)

	if !lg.track() {
		return nil
	}

	go lg.statsReporter(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-lg.stopChan:
			return nil

		case <-ticker.C:
			if !lg.track() {
				return nil
			}

			go lg.executeScenario(ctx)
		}
	}
}

// Stop ends Start and waits for running scenarios until ctx is done.
func (lg *LoadGenerator) Stop(ctx context.Context) error {
	lg.mu.Lock()
	lg.stopped = true
	lg.mu.Unlock()

	lg.stopOnce.Do(func() { close(lg.stopChan) })

	done := make(chan struct{})
	go func() {
		lg.wg.Wait()
		close(done)
	}()

	defer lg.logStats("load generator final stats")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("shutdown timeout exceeded")
	}
}

// track registers one more goroutine with the WaitGroup, unless Stop has begun waiting on it.
func (lg *LoadGenerator) track() bool {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if lg.stopped {
		return false
	}

	lg.wg.Add(1)

	return true
}

func (lg *LoadGenerator) executeScenario(ctx context.Context) {
	defer lg.wg.Done()

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	scenario := lg.selectScenario()

	var err error
	switch scenario {
	case scenarioDeposit:
		err = lg.runDeposit(opCtx)
	case scenarioWithdraw:
		err = lg.runWithdraw(opCtx)
	case scenarioTransfer:
		err = lg.runTransfer(opCtx)
	default:
		err = lg.runProfileUpdate(opCtx)
	}

	lg.requestCount.Add(1)

	switch {
	case err == nil:
	case errors.Is(err, account.ErrInsufficientFunds):
		lg.rejectedCount.Add(1)
	default:
		lg.errorCount.Add(1)
		lg.logger.Warn("scenario failed", "scenario", scenario, "error", err.Error())
	}
}

func (lg *LoadGenerator) selectScenario() string {
	r := rand.IntN(100) //nolint:gosec // load generation needs no crypto

	switch {
	case r < 40:
		return scenarioDeposit
	case r < 70:
		return scenarioWithdraw
	case r < 90:
		return scenarioTransfer
	default:
		return scenarioProfile
	}
}

func (lg *LoadGenerator) runDeposit(ctx context.Context) error {
	id := lg.randomAccountID()

	return lg.handler.Handle(ctx, scenarioDeposit, func(ctx context.Context, ec *eventstore.EventContext) error {
		a, err := account.Load(ctx, ec, id)
		if err != nil {
			return err
		}

		return a.Deposit(randomAmount())
	})
}

func (lg *LoadGenerator) runWithdraw(ctx context.Context) error {
	id := lg.randomAccountID()

	return lg.handler.Handle(ctx, scenarioWithdraw, func(ctx context.Context, ec *eventstore.EventContext) error {
		a, err := account.Load(ctx, ec, id)
		if err != nil {
			return err
		}

		return a.Withdraw(randomAmount())
	})
}

// runTransfer moves money between two accounts in one EventContext, so both sides commit or neither does.
func (lg *LoadGenerator) runTransfer(ctx context.Context) error {
	from, to := lg.randomAccountID(), lg.randomAccountID()
	if from == to {
		return nil
	}

	amount := randomAmount()

	return lg.handler.Handle(ctx, scenarioTransfer, func(ctx context.Context, ec *eventstore.EventContext) error {
		ec.AddMetadata("transfer_id", uuid.NewString())

		source, err := account.Load(ctx, ec, from)
		if err != nil {
			return err
		}

		target, err := account.Load(ctx, ec, to)
		if err != nil {
			return err
		}

		if err = source.Withdraw(amount); err != nil {
			return err
		}

		return target.Deposit(amount)
	})
}

func (lg *LoadGenerator) runProfileUpdate(ctx context.Context) error {
	if len(lg.emails) == 0 {
		return nil
	}

	email := lg.emails[rand.IntN(len(lg.emails))] //nolint:gosec // load generation needs no crypto

	id, found, err := user.FindByEmail(ctx, lg.es, email)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("user %s not found", email)
	}

	return lg.handler.Handle(ctx, scenarioProfile, func(ctx context.Context, ec *eventstore.EventContext) error {
		u, err := user.Load(ctx, ec, id)
		if err != nil {
			return err
		}

		return eventstore.Request(u, user.Command(user.UpdatePassword{PasswordHash: uuid.NewString()}))
	})
}

func (lg *LoadGenerator) randomAccountID() int64 {
	return lg.accountIDs[rand.IntN(len(lg.accountIDs))] //nolint:gosec // load generation needs no crypto
}

func randomAmount() int64 {
	return rand.Int64N(maxAmount) + 1 //nolint:gosec // load generation needs no crypto
}

func (lg *LoadGenerator) statsReporter(ctx context.Context) {
	defer lg.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lg.stopChan:
			return
		case <-ticker.C:
			lg.logStats("load generator stats")
		}
	}
}

func (lg *LoadGenerator) logStats(msg string) {
	duration := time.Since(lg.startTime)
	requests := lg.requestCount.Load()

	if duration <= 0 || requests == 0 {
		return
	}

	lg.logger.Info(msg,
		"requests", requests,
		"duration", duration.Truncate(time.Second).String(),
		"requests_per_second", float64(requests)/duration.Seconds(),
		"rejected", lg.rejectedCount.Load(),
		"errors", lg.errorCount.Load(),
		"goroutines", runtime.NumGoroutine(),
	)
}
