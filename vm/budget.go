package vm

import "context"

// pollInterval is the number of dispatches between context checks.
const pollInterval = 256

// Budget meters instruction dispatches for one interpreter and polls the
// run's context for cancellation. A nil Budget or a zero limit never runs
// out of instructions.
type Budget struct {
	limit int64
	used  int64
	tick  int
	err   *RuntimeError // sticky once cancelled
	// caught is set once a handler has received err; later raises of it
	// bypass exception ranges.
	caught bool
}

// NewBudget creates a budget allowing limit dispatches (0 = unlimited).
func NewBudget(limit int64) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: limit}
}

func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}

func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used
}

// Remaining returns the dispatches left, or -1 when unlimited.
func (b *Budget) Remaining() int64 {
	if b == nil || b.limit == 0 {
		return -1
	}
	return b.limit - b.used
}

// Charge accounts for one dispatch. Once the limit is reached, or ctx is
// done, every further call fails with Cancelled.
func (b *Budget) Charge(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if b.err != nil {
		return b.err
	}
	if b.limit > 0 && b.used >= b.limit {
		b.err = newError(Cancelled, "instruction budget of %d exhausted", b.limit)
		return b.err
	}
	b.used++
	b.tick++
	if b.tick >= pollInterval {
		b.tick = 0
		return b.Poll(ctx)
	}
	return nil
}

// Poll checks ctx immediately.
func (b *Budget) Poll(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if b.err != nil {
		return b.err
	}
	if err := ctx.Err(); err != nil {
		b.err = newError(Cancelled, "execution cancelled: %v", err)
		return b.err
	}
	return nil
}

// spent reports whether err is a cancellation of this run that a handler
// has already received. Such errors bypass exception ranges.
func (b *Budget) spent(err *RuntimeError) bool {
	return b != nil && b.err != nil && b.caught && err.Kind == Cancelled
}

// delivered records that a handler received a cancellation.
func (b *Budget) delivered(err *RuntimeError) {
	if b != nil && b.err != nil && err.Kind == Cancelled {
		b.caught = true
	}
}
