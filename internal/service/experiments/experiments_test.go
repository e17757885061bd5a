package experiments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
	"github.com/ashita-ai/hakari/internal/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store storage.Store
	svc   *Service
	clock *clock
	arm1  model.Algorithm
	arm2  model.Algorithm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewSQLite(t)
	c := &clock{t: storage.Now().Add(time.Minute)}
	svc := New(store, testutil.TestLogger())
	svc.now = c.now
	return &fixture{
		store: store,
		svc:   svc,
		clock: c,
		arm1:  testutil.SeedAlgorithm(t, store, "random_forest", "income_classifier", "0.0.1", model.StatusProduction),
		arm2:  testutil.SeedAlgorithm(t, store, "gradient_boosting", "income_classifier", "0.0.1", model.StatusStaging),
	}
}

func (f *fixture) open(t *testing.T) model.ABTest {
	t.Helper()
	ab, err := f.svc.Open(context.Background(), OpenInput{
		Title:      "rf vs gb",
		CreatedBy:  "alice",
		Algorithm1: f.arm1.ID,
		Algorithm2: f.arm2.ID,
	})
	require.NoError(t, err)
	return ab
}

// record writes n requests for alg answered "bad", of which correct carry
// matching feedback. The rest are labelled "good" by the reviewer.
func (f *fixture) record(t *testing.T, alg uuid.UUID, n, correct int) {
	t.Helper()
	ctx := context.Background()
	for i := range n {
		f.clock.advance(time.Millisecond)
		fb := "good"
		if i < correct {
			fb = "bad"
		}
		req, err := f.store.CreateRequest(ctx, model.Request{
			AlgorithmID: alg,
			InputData:   map[string]any{"i": i},
			Response:    "bad",
			CreatedBy:   "alice",
			CreatedAt:   f.clock.now(),
		})
		require.NoError(t, err)
		_, err = f.store.SetFeedback(ctx, req.ID, fb)
		require.NoError(t, err)
	}
}

func (f *fixture) status(t *testing.T, id uuid.UUID) model.Status {
	t.Helper()
	alg, err := f.store.GetAlgorithm(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, alg.Status)
	return *alg.Status
}

func (f *fixture) ledgerLen(t *testing.T, id uuid.UUID) int {
	t.Helper()
	entries, err := f.store.ListStatuses(context.Background(), id)
	require.NoError(t, err)
	return len(entries)
}

func TestOpen_MovesBothArmsToABTesting(t *testing.T) {
	f := newFixture(t)
	ab := f.open(t)

	assert.True(t, ab.Open())
	assert.Equal(t, model.StatusABTesting, f.status(t, f.arm1.ID))
	assert.Equal(t, model.StatusABTesting, f.status(t, f.arm2.ID))

	got, err := f.svc.Get(context.Background(), ab.ID)
	require.NoError(t, err)
	assert.Equal(t, ab.Title, got.Title)
	assert.Nil(t, got.Summary)
}

func TestOpen_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]OpenInput{
		"same arm":    {Title: "x", CreatedBy: "alice", Algorithm1: f.arm1.ID, Algorithm2: f.arm1.ID},
		"missing arm": {Title: "x", CreatedBy: "alice", Algorithm1: f.arm1.ID, Algorithm2: uuid.New()},
		"no title":    {CreatedBy: "alice", Algorithm1: f.arm1.ID, Algorithm2: f.arm2.ID},
		"no creator":  {Title: "x", Algorithm1: f.arm1.ID, Algorithm2: f.arm2.ID},
		"nil arm":     {Title: "x", CreatedBy: "alice", Algorithm1: f.arm1.ID},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Open(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// A failed open leaves the ledger untouched.
	assert.Equal(t, model.StatusProduction, f.status(t, f.arm1.ID))
	assert.Equal(t, model.StatusStaging, f.status(t, f.arm2.ID))
	_, total, err := f.svc.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestClose_PromotesMoreAccurateArm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab := f.open(t)

	f.record(t, f.arm1.ID, 100, 60)
	f.record(t, f.arm2.ID, 100, 90)
	f.clock.advance(time.Second)

	res, err := f.svc.Close(ctx, ab.ID, "bob")
	require.NoError(t, err)
	assert.False(t, res.AlreadyClosed)
	assert.Equal(t, "Algorithm #1 accuracy: 0.6000, Algorithm #2 accuracy: 0.9000", res.Summary)
	assert.Equal(t, f.arm2.ID, res.Winner)
	assert.InDelta(t, 0.6, res.Arms[0].Accuracy, 1e-9)
	assert.InDelta(t, 0.9, res.Arms[1].Accuracy, 1e-9)
	assert.EqualValues(t, 100, res.Arms[1].Total)
	require.NotNil(t, res.Test.EndedAt)

	assert.Equal(t, model.StatusTesting, f.status(t, f.arm1.ID))
	assert.Equal(t, model.StatusProduction, f.status(t, f.arm2.ID))

	stored, err := f.svc.Get(ctx, ab.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, res.Summary, *stored.Summary)
	assert.False(t, stored.Open())
}

func TestClose_SecondCallIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab := f.open(t)
	f.record(t, f.arm1.ID, 10, 9)
	f.record(t, f.arm2.ID, 10, 6)
	f.clock.advance(time.Second)

	first, err := f.svc.Close(ctx, ab.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Algorithm #1 accuracy: 0.9000, Algorithm #2 accuracy: 0.6000", first.Summary)
	len1, len2 := f.ledgerLen(t, f.arm1.ID), f.ledgerLen(t, f.arm2.ID)

	// Late traffic must not change the stored outcome.
	f.record(t, f.arm2.ID, 50, 50)
	f.clock.advance(time.Second)

	second, err := f.svc.Close(ctx, ab.ID, "carol")
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, len1, f.ledgerLen(t, f.arm1.ID))
	assert.Equal(t, len2, f.ledgerLen(t, f.arm2.ID))
	assert.Equal(t, model.StatusProduction, f.status(t, f.arm1.ID))
}

func TestClose_InsufficientDataKeepsExperimentOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab := f.open(t)
	f.record(t, f.arm1.ID, 5, 5)
	f.clock.advance(time.Second)

	_, err := f.svc.Close(ctx, ab.ID, "bob")
	require.ErrorIs(t, err, ErrInsufficientData)

	got, err := f.svc.Get(ctx, ab.ID)
	require.NoError(t, err)
	assert.True(t, got.Open())
	assert.Equal(t, model.StatusABTesting, f.status(t, f.arm1.ID))
	assert.Equal(t, model.StatusABTesting, f.status(t, f.arm2.ID))

	// Once both arms have traffic the close succeeds.
	f.record(t, f.arm2.ID, 5, 1)
	f.clock.advance(time.Second)
	res, err := f.svc.Close(ctx, ab.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, f.arm1.ID, res.Winner)
}

func TestClose_TieGoesToFirstArm(t *testing.T) {
	f := newFixture(t)
	ab := f.open(t)
	f.record(t, f.arm1.ID, 4, 2)
	f.record(t, f.arm2.ID, 8, 4)
	f.clock.advance(time.Second)

	res, err := f.svc.Close(context.Background(), ab.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, f.arm1.ID, res.Winner)
	assert.Equal(t, model.StatusProduction, f.status(t, f.arm1.ID))
	assert.Equal(t, model.StatusTesting, f.status(t, f.arm2.ID))
}

func TestClose_IgnoresRequestsBeforeOpen(t *testing.T) {
	f := newFixture(t)
	// Traffic served before the experiment started does not count.
	f.record(t, f.arm1.ID, 20, 0)
	f.clock.advance(time.Millisecond)
	ab := f.open(t)
	f.record(t, f.arm1.ID, 10, 10)
	f.record(t, f.arm2.ID, 10, 5)
	f.clock.advance(time.Second)

	res, err := f.svc.Close(context.Background(), ab.ID, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 10, res.Arms[0].Total)
	assert.Equal(t, f.arm1.ID, res.Winner)
}

func TestClose_WindowIncludesOpeningInstant(t *testing.T) {
	f := newFixture(t)
	ab := f.open(t)
	ctx := context.Background()
	label := "bad"
	for _, at := range []time.Time{ab.CreatedAt.Add(-time.Microsecond), ab.CreatedAt} {
		_, err := f.store.CreateRequest(ctx, model.Request{
			AlgorithmID: f.arm1.ID,
			Response:    "bad",
			Feedback:    &label,
			CreatedBy:   "alice",
			CreatedAt:   at,
		})
		require.NoError(t, err)
	}
	f.record(t, f.arm2.ID, 2, 1)
	f.clock.advance(time.Second)

	res, err := f.svc.Close(ctx, ab.ID, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Arms[0].Total)
	assert.EqualValues(t, 1, res.Arms[0].Correct)
	assert.EqualValues(t, 2, res.Arms[1].Total)
}

func TestClose_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Close(context.Background(), uuid.New(), "bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClose_ConcurrentCallsMutateOnce(t *testing.T) {
	f := newFixture(t)
	ab := f.open(t)
	f.record(t, f.arm1.ID, 10, 3)
	f.record(t, f.arm2.ID, 10, 7)
	f.clock.advance(time.Second)
	before := f.ledgerLen(t, f.arm2.ID)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]CloseResult, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Close(context.Background(), ab.ID, fmt.Sprintf("op-%d", i))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
		assert.Equal(t, "Algorithm #1 accuracy: 0.3000, Algorithm #2 accuracy: 0.7000", results[i].Summary)
	}
	assert.Equal(t, before+1, f.ledgerLen(t, f.arm2.ID), "winner promoted exactly once")
	assert.Equal(t, model.StatusProduction, f.status(t, f.arm2.ID))
}

func TestClose_CancelledCallerDoesNotAbortSharedClose(t *testing.T) {
	f := newFixture(t)
	ab := f.open(t)
	f.record(t, f.arm1.ID, 2, 2)
	f.record(t, f.arm2.ID, 2, 0)
	f.clock.advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Close(ctx, ab.ID, "bob")
	require.NoError(t, err)
	got, err := f.svc.Get(context.Background(), ab.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
}
