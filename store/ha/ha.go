// Package ha implements a blob store that makes two nested stores appear as one reliable store.
//
// One nested store plays the primary role and the other the secondary role.
// Writes go to the primary synchronously
// and are queued for the secondary on a pool of background workers.
// A failing primary is demoted:
// the call falls back to the secondary
// and the two stores exchange roles.
//
// The secondary copy is best-effort.
// A failed background write is logged and not retried,
// so the secondary may lag behind or miss blobs entirely.
package ha

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bobg/habs"
	"github.com/bobg/habs/pool"
	"github.com/bobg/habs/store"
)

var _ habs.Store = (*Store)(nil)

// DefaultRetries is the number of attempts SetBlob makes by default.
const DefaultRetries = 3

// Store is a blob store that delegates reads and writes to two nested stores.
// It is safe for concurrent use.
type Store struct {
	// Each call reads the role pair once, at its start,
	// and acts on that snapshot for its whole duration.
	cur    atomic.Pointer[roles]
	swapMu sync.Mutex // serializes swaps
	swaps  atomic.Int64

	pool      *pool.Pool
	workers   int
	validator habs.Validator
	logger    *zap.Logger
	reg       prometheus.Registerer
	metrics   *metrics

	trySecondary atomic.Bool
	validate     atomic.Bool
	retries      atomic.Int32
}

// roles is an immutable assignment of nested stores to roles.
type roles struct {
	primary, secondary habs.Store
}

// Option configures a Store.
type Option func(*Store)

// WithRetries sets the number of attempts SetBlob makes before giving up.
func WithRetries(n int) Option {
	return func(s *Store) { s.SetRetries(n) }
}

// WithValidate controls whether GetBlob checks blob content against the requested ref.
func WithValidate(v bool) Option {
	return func(s *Store) { s.SetValidate(v) }
}

// WithTrySecondaryWhenNotFound controls whether GetBlob consults the secondary
// when the primary does not have a blob.
func WithTrySecondaryWhenNotFound(v bool) Option {
	return func(s *Store) { s.SetTrySecondaryWhenNotFound(v) }
}

// WithValidator sets the Validator used when validation is on.
// The default is habs.SHA256.
func WithValidator(v habs.Validator) Option {
	return func(s *Store) { s.validator = v }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRegisterer registers the Store's metrics with reg.
// Without it the metrics are kept but not exported.
// The metrics carry a "store" label naming the initial primary and secondary.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) { s.reg = reg }
}

// WithWorkers sets the number of background replication workers.
// The default is pool.DefaultWorkers.
func WithWorkers(n int) Option {
	return func(s *Store) { s.workers = n }
}

// New produces a new Store with the given primary and secondary stores.
// The secondary may be nil,
// in which case the Store degrades to the primary alone,
// with nothing to fail over to.
//
// The Store starts a pool of replication workers.
// Call Close to drain it.
func New(primary, secondary habs.Store, opts ...Option) *Store {
	s := &Store{
		validator: habs.SHA256,
		logger:    zap.NewNop(),
		workers:   pool.DefaultWorkers,
	}
	s.cur.Store(&roles{primary: primary, secondary: secondary})
	s.trySecondary.Store(true)
	s.retries.Store(DefaultRetries)
	for _, opt := range opts {
		opt(s)
	}
	s.pool = pool.New(s.workers, pool.WithLogger(s.logger.Named("replication")))
	s.metrics = newMetrics(s, s.String())
	if s.reg != nil {
		s.metrics.register(s.reg, s.logger)
	}
	return s
}

// SetBlob stores b under ref in the primary store
// and queues a copy for the secondary.
//
// If the primary fails,
// b is written to the secondary instead,
// a copy is queued for the failed primary to catch up later,
// and the two stores swap roles.
// If both fail,
// the whole attempt is repeated,
// up to Retries times in all,
// after which SetBlob returns a *habs.ExhaustedRetriesError.
//
// SetBlob retains b until the background copy is done.
// Callers must not modify it.
func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	var (
		attempts = s.Retries()
		last     error
	)
	for i := 0; i < attempts; i++ {
		last = s.setBlob(ctx, ref, b)
		if last == nil {
			return nil
		}
		s.logger.Warn("failed to set blob on both stores",
			zap.Stringer("ref", ref),
			zap.Int("attempt", i+1),
			zap.Int("of", attempts),
			zap.Error(last),
		)
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "setting %s after %d attempts", ref, i+1)
		}
	}
	return &habs.ExhaustedRetriesError{Ref: ref, Attempts: attempts, Err: last}
}

func (s *Store) setBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	r := s.cur.Load()

	perr := r.primary.SetBlob(ctx, ref, b)
	if perr == nil {
		s.replicate(ref, b, r.secondary)
		return nil
	}

	s.logger.Warn("SetBlob failed on primary",
		zap.String("primary", store.Describe(r.primary)),
		zap.Stringer("ref", ref),
		zap.Int("size", len(b)),
		zap.Error(perr),
	)
	if r.secondary == nil {
		return errors.Wrapf(perr, "setting %s in primary %s (no secondary)", ref, store.Describe(r.primary))
	}

	serr := r.secondary.SetBlob(ctx, ref, b)
	if serr != nil {
		return multierr.Combine(
			errors.Wrapf(perr, "setting %s in primary %s", ref, store.Describe(r.primary)),
			errors.Wrapf(serr, "setting %s in secondary %s", ref, store.Describe(r.secondary)),
		)
	}

	s.logger.Warn("SetBlob succeeded on secondary", zap.String("secondary", store.Describe(r.secondary)), zap.Stringer("ref", ref))
	s.metrics.fallbacks.WithLabelValues("set").Inc()
	s.replicate(ref, b, r.primary)
	s.swap(r)
	return nil
}

// GetBlob gets the blob with hash ref from the primary store.
//
// If the primary does not have it,
// and TrySecondaryWhenNotFound is on,
// the secondary is consulted too.
// A miss is not a failure and causes no role swap.
// A secondary failure after a primary miss
// produces a *habs.UnavailableError, also without a swap.
//
// If the primary fails,
// the secondary is consulted,
// and if it answers, the two stores swap roles.
// If both fail,
// GetBlob returns a *habs.UnavailableError holding both causes.
//
// If Validate is on,
// a found blob is checked against ref,
// and a mismatch produces a *habs.IntegrityError instead of the blob.
func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	r := s.cur.Load()

	from := r.primary
	b, err := r.primary.GetBlob(ctx, ref)

	switch {
	case errors.Is(err, habs.ErrNotFound):
		if s.TrySecondaryWhenNotFound() && r.secondary != nil {
			s.logger.Info("not found in primary, trying secondary", zap.Stringer("ref", ref))
			from = r.secondary
			b, err = r.secondary.GetBlob(ctx, ref)
			if err != nil && !errors.Is(err, habs.ErrNotFound) {
				// No swap: the primary answered.
				s.logger.Warn("GetBlob failed on secondary after miss on primary",
					zap.String("secondary", store.Describe(r.secondary)),
					zap.Stringer("ref", ref),
					zap.Error(err),
				)
				return nil, &habs.UnavailableError{
					Ref: ref,
					Err: errors.Wrapf(err, "secondary %s after miss on primary %s", store.Describe(r.secondary), store.Describe(r.primary)),
				}
			}
		}

	case err != nil:
		s.logger.Warn("GetBlob failed on primary",
			zap.String("primary", store.Describe(r.primary)),
			zap.Stringer("ref", ref),
			zap.Error(err),
		)
		if r.secondary == nil {
			return nil, &habs.UnavailableError{
				Ref: ref,
				Err: errors.Wrapf(err, "primary %s (no secondary)", store.Describe(r.primary)),
			}
		}

		from = r.secondary
		var serr error
		b, serr = r.secondary.GetBlob(ctx, ref)
		if serr != nil && !errors.Is(serr, habs.ErrNotFound) {
			return nil, &habs.UnavailableError{
				Ref: ref,
				Err: multierr.Combine(
					errors.Wrapf(err, "primary %s", store.Describe(r.primary)),
					errors.Wrapf(serr, "secondary %s", store.Describe(r.secondary)),
				),
			}
		}
		s.logger.Warn("GetBlob succeeded on secondary", zap.String("secondary", store.Describe(r.secondary)), zap.Stringer("ref", ref))
		s.metrics.fallbacks.WithLabelValues("get").Inc()
		s.swap(r)
		err = serr
	}

	if err != nil {
		return nil, err
	}

	if s.Validate() {
		if verr := s.validator.VerifyHash(bytes.NewReader(b), ref); verr != nil {
			return nil, &habs.IntegrityError{Ref: ref, Size: len(b), From: store.Describe(from), Err: verr}
		}
	}

	return b, nil
}

// HasBlob tells whether GetBlob finds a blob for ref.
// It reads the whole blob.
func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	_, err := s.GetBlob(ctx, ref)
	if errors.Is(err, habs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Swap exchanges the roles of the stores in the observed snapshot.
// If the roles have changed since the snapshot was taken,
// some other call already reacted to the failure and Swap does nothing.
func (s *Store) swap(observed *roles) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	if observed.secondary == nil {
		s.logger.Warn("cannot switch stores: no secondary configured")
		return
	}
	if s.cur.Load() != observed {
		s.logger.Info("stores already switched")
		return
	}

	s.logger.Warn("switching stores due to primary failure")
	next := &roles{primary: observed.secondary, secondary: observed.primary}
	s.cur.Store(next)
	s.swaps.Add(1)
	s.metrics.swaps.Inc()
	s.logger.Warn("done switching stores",
		zap.String("primary", store.Describe(next.primary)),
		zap.String("secondary", store.Describe(next.secondary)),
	)
}

func (s *Store) replicate(ref habs.Ref, b []byte, target habs.Store) {
	if target == nil {
		return
	}
	err := s.pool.Submit(pool.Task{
		Name: "replicate " + ref.String() + " to " + store.Describe(target),
		Run: func(ctx context.Context) error {
			err := target.SetBlob(ctx, ref, b)
			if err != nil {
				s.metrics.replFailed.Inc()
			}
			return err
		},
	})
	if err != nil {
		s.logger.Error("cannot queue replication", zap.Stringer("ref", ref), zap.Error(err))
	}
}

// Roles returns the stores currently in the primary and secondary roles.
func (s *Store) Roles() (primary, secondary habs.Store) {
	r := s.cur.Load()
	return r.primary, r.secondary
}

// Swaps tells how many role swaps have happened.
func (s *Store) Swaps() int64 {
	return s.swaps.Load()
}

// Pending tells how many replication tasks are queued or running.
func (s *Store) Pending() int {
	return s.pool.Len()
}

// Close waits for queued replication to finish and stops the workers.
// The Store must not be written after Close.
func (s *Store) Close() {
	s.pool.Close()
}

// Abort discards queued replication and stops the workers.
func (s *Store) Abort() {
	s.pool.Abort()
}

func (s *Store) TrySecondaryWhenNotFound() bool     { return s.trySecondary.Load() }
func (s *Store) SetTrySecondaryWhenNotFound(v bool) { s.trySecondary.Store(v) }
func (s *Store) Validate() bool                     { return s.validate.Load() }
func (s *Store) SetValidate(v bool)                 { s.validate.Store(v) }
func (s *Store) Retries() int                       { return int(s.retries.Load()) }

// SetRetries sets the number of attempts SetBlob makes.
// Values below 1 are treated as 1.
func (s *Store) SetRetries(n int) {
	if n < 1 {
		n = 1
	}
	s.retries.Store(int32(n))
}

func (s *Store) String() string {
	p, sec := s.Roles()
	return "ha(" + store.Describe(p) + ", " + store.Describe(sec) + ")"
}

func init() {
	store.Register("ha", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		primary, err := store.Nested(ctx, conf, "primary")
		if err != nil {
			return nil, err
		}

		var secondary habs.Store
		if _, ok := conf["secondary"]; ok {
			secondary, err = store.Nested(ctx, conf, "secondary")
			if err != nil {
				return nil, err
			}
		}

		retries, err := store.Int(conf, "retries", DefaultRetries)
		if err != nil {
			return nil, err
		}
		workers, err := store.Int(conf, "workers", pool.DefaultWorkers)
		if err != nil {
			return nil, err
		}
		validate, err := store.Bool(conf, "validate", false)
		if err != nil {
			return nil, err
		}
		trySecondary, err := store.Bool(conf, "try_secondary", true)
		if err != nil {
			return nil, err
		}

		return New(primary, secondary,
			WithRetries(retries),
			WithWorkers(workers),
			WithValidate(validate),
			WithTrySecondaryWhenNotFound(trySecondary),
			WithLogger(zap.L().Named("ha")),
			WithRegisterer(prometheus.DefaultRegisterer),
		), nil
	})
}
