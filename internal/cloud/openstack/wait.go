package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
)

// Terminal error states. A resource reporting one of these never recovers on its own.
var errorStates = []string{"error", "error_deleting"}

// Resource is a provider resource whose state can be re-read.
type Resource interface {
	// Kind is the lower-case resource kind used in messages, e.g. "server".
	Kind() string
	// Identity is the provider-assigned id.
	Identity() string
	// Refresh re-fetches the resource. found is false once the provider no longer knows it.
	Refresh(ctx context.Context) (state string, found bool, err error)
}

// WaitSpec configures a single wait. A zero MaxTries uses the manager default.
type WaitSpec struct {
	TargetStates  []string
	AllowNotFound bool
	MaxTries      int
	// Description overrides the "<kind> `<id>'" label used in logs and errors.
	Description string
}

// CheckpointFunc lets the orchestrator abort a wait between polls.
type CheckpointFunc func(ctx context.Context) error

// ContextCheckpoint aborts when the context is cancelled or past its deadline.
func ContextCheckpoint(ctx context.Context) error {
	return ctx.Err()
}

// WaitManager polls resources until they reach a target state.
type WaitManager struct {
	Config     cloud.WaitConfig
	Caller     *Caller
	Checkpoint CheckpointFunc
	Logger     *slog.Logger

	sleep SleepFunc
	now   func() time.Time
}

// NewWaitManager returns a WaitManager that refreshes resources through caller.
func NewWaitManager(cfg cloud.WaitConfig, caller *Caller, checkpoint CheckpointFunc, logger *slog.Logger) *WaitManager {
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = cloud.DefaultMaxTries
	}
	if cfg.MaxSleepExponent <= 0 {
		cfg.MaxSleepExponent = cloud.DefaultMaxSleepExponent
	}
	if checkpoint == nil {
		checkpoint = ContextCheckpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WaitManager{
		Config:     cfg,
		Caller:     caller,
		Checkpoint: checkpoint,
		Logger:     logger,
		sleep:      Sleep,
		now:        time.Now,
	}
}

// Backoff returns the delay before retry n (n >= 1): 2^min(n, maxExponent) seconds.
func Backoff(n, maxExponent int) time.Duration {
	exp := min(n, maxExponent)
	return time.Duration(math.Pow(2, float64(exp))) * time.Second
}

// WaitFor blocks until res reports one of spec.TargetStates.
//
// It fails immediately when the resource disappears (unless AllowNotFound is set) or reports
// a terminal error state, and fails with a timeout after MaxTries polls. Errors other than
// those are returned as they come from the provider.
func (w *WaitManager) WaitFor(ctx context.Context, res Resource, spec WaitSpec) error {
	maxTries := spec.MaxTries
	if maxTries <= 0 {
		maxTries = w.Config.MaxTries
	}

	targets := make([]string, len(spec.TargetStates))
	for i, s := range spec.TargetStates {
		targets[i] = strings.ToLower(s)
	}

	description := spec.Description
	if description == "" {
		description = fmt.Sprintf("%s `%s'", res.Kind(), res.Identity())
	}

	startedAt := w.now()
	logger := w.Logger.With("resource", description, "target_states", cloud.JoinStates(targets))

	for attempt := 1; attempt <= maxTries; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, w.Config.MaxSleepExponent)
			logger.Debug("Resource not ready, retrying",
				"wait", delay,
				"attempt", fmt.Sprintf("%d/%d", attempt-1, maxTries))
			if err := w.sleep(ctx, delay); err != nil {
				return fmt.Errorf("waiting for %s cancelled: %w", description, err)
			}
		}

		if err := w.Checkpoint(ctx); err != nil {
			return fmt.Errorf("waiting for %s aborted: %w", description, err)
		}

		var state string
		var found bool
		err := w.Caller.Do(ctx, "Refresh "+res.Kind(), func(ctx context.Context) error {
			var err error
			state, found, err = res.Refresh(ctx)
			return err
		})
		if err != nil {
			return err
		}

		if !found {
			if spec.AllowNotFound {
				logger.Info("Resource is gone", "took", w.elapsed(startedAt))
				return nil
			}
			return &cloud.CloudError{
				Kind:         cloud.ErrNotFound,
				Message:      fmt.Sprintf("%s not found", description),
				Description:  description,
				TargetStates: targets,
				Elapsed:      w.elapsed(startedAt),
			}
		}

		state = strings.ToLower(state)

		if slices.Contains(errorStates, state) {
			took := w.elapsed(startedAt)
			return &cloud.CloudError{
				Kind: cloud.ErrState,
				Message: fmt.Sprintf("%s state is %s, expected %s, took %ds",
					description, state, cloud.JoinStates(targets), int(took.Seconds())),
				Description:  description,
				TargetStates: targets,
				Elapsed:      took,
			}
		}

		if slices.Contains(targets, state) {
			logger.Info("Resource reached target state", "state", state, "took", w.elapsed(startedAt))
			return nil
		}
	}

	took := w.elapsed(startedAt)
	return &cloud.CloudError{
		Kind: cloud.ErrTimeout,
		Message: fmt.Sprintf("Timed out waiting for %s to be %s, took %ds",
			description, cloud.JoinStates(targets), int(took.Seconds())),
		Description:  description,
		TargetStates: targets,
		Elapsed:      took,
	}
}

func (w *WaitManager) elapsed(startedAt time.Time) time.Duration {
	return w.now().Sub(startedAt).Round(time.Millisecond)
}
