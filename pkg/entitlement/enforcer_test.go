package entitlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katosuite/usagekit/pkg/entitlement"
)

// fakeAccountingClient is a scriptable AccountingClient for tests.
type fakeAccountingClient struct {
	mu        sync.Mutex
	snapshot  entitlement.Snapshot
	fetchErr  error
	totals    map[entitlement.Resource]int64
	incErr    error
	fetches   int
	increment int
}

func (f *fakeAccountingClient) FetchUsage(ctx context.Context) (entitlement.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.snapshot.Clone(), nil
}

func (f *fakeAccountingClient) Increment(ctx context.Context, res entitlement.Resource, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increment++
	if f.incErr != nil {
		return 0, f.incErr
	}
	if f.totals == nil {
		f.totals = make(map[entitlement.Resource]int64)
	}
	f.totals[res] += amount
	return f.totals[res], nil
}

// capturingDispatcher records every dispatched prompt.
type capturingDispatcher struct {
	mu      sync.Mutex
	prompts []entitlement.UpgradePrompt
}

func (d *capturingDispatcher) DispatchUpgradePrompt(_ context.Context, p entitlement.UpgradePrompt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts = append(d.prompts, p)
}

func (d *capturingDispatcher) all() []entitlement.UpgradePrompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]entitlement.UpgradePrompt(nil), d.prompts...)
}

// waitFor blocks until n prompts have been dispatched; dispatch runs on
// its own goroutine, so captures are observed asynchronously.
func (d *capturingDispatcher) waitFor(t *testing.T, n int) []entitlement.UpgradePrompt {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(d.all()) >= n
	}, time.Second, 5*time.Millisecond)
	return d.all()
}

// slowDispatcher simulates delivery latency and records the context
// state observed at delivery time.
type slowDispatcher struct {
	delay     time.Duration
	delivered chan entitlement.UpgradePrompt
	ctxErr    error
}

func (d *slowDispatcher) DispatchUpgradePrompt(ctx context.Context, p entitlement.UpgradePrompt) {
	time.Sleep(d.delay)
	d.ctxErr = ctx.Err()
	d.delivered <- p
}

func newEnforcer(t *testing.T, plan entitlement.PlanID, snapshot entitlement.Snapshot, opts ...entitlement.Option) (*entitlement.Enforcer, *fakeAccountingClient) {
	t.Helper()

	client := &fakeAccountingClient{snapshot: snapshot}
	opts = append([]entitlement.Option{entitlement.WithPlan(plan)}, opts...)
	enforcer, err := entitlement.New(context.Background(),
		entitlement.NewInMemSource(entitlement.DefaultPlans()), client, opts...)
	require.NoError(t, err)

	if snapshot != nil {
		require.NoError(t, enforcer.RefreshUsage(context.Background()))
	}
	return enforcer, client
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil source panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			_, _ = entitlement.New(context.Background(), nil, nil)
		})
	})

	t.Run("invalid plan configuration", func(t *testing.T) {
		t.Parallel()

		plans := entitlement.DefaultPlans()
		broken := plans[entitlement.PlanFree]
		broken.Limits[entitlement.ResourceReports] = -7
		plans[entitlement.PlanFree] = broken

		_, err := entitlement.New(context.Background(), entitlement.NewInMemSource(plans), nil)
		assert.ErrorIs(t, err, entitlement.ErrInvalidPlanConfiguration)
	})

	t.Run("source load error", func(t *testing.T) {
		t.Parallel()

		src := failingSource{err: errors.New("boom")}
		_, err := entitlement.New(context.Background(), src, nil)
		assert.ErrorIs(t, err, entitlement.ErrFailedToLoadPlans)
	})
}

type failingSource struct{ err error }

func (s failingSource) Load(ctx context.Context) (map[entitlement.PlanID]entitlement.Plan, error) {
	return nil, s.err
}

func TestEnforcer_Check(t *testing.T) {
	t.Parallel()

	t.Run("denies with distinct reason before snapshot loads", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, nil)

		verdict := enforcer.Check(entitlement.ResourceLessonPlans, 1)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, entitlement.ReasonUsageNotLoaded, verdict.Reason)
		assert.True(t, verdict.Transient())
		assert.Empty(t, verdict.UpgradeMessage)
		assert.Nil(t, verdict.CurrentUsage)
		assert.Nil(t, verdict.Limit)
	})

	t.Run("denies at the cap with enrichment", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{
			entitlement.ResourceLessonPlans: 10,
		})

		verdict := enforcer.Check(entitlement.ResourceLessonPlans, 1)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, entitlement.ReasonLimitExceeded, verdict.Reason)
		require.NotNil(t, verdict.CurrentUsage)
		require.NotNil(t, verdict.Limit)
		assert.Equal(t, int64(10), *verdict.CurrentUsage)
		assert.Equal(t, int64(10), *verdict.Limit)
		assert.Equal(t, entitlement.PlanStarter, verdict.SuggestedPlan)
		assert.Contains(t, verdict.UpgradeMessage, "Starter")
	})

	t.Run("unlimited always allows", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanPremium, entitlement.Snapshot{
			entitlement.ResourceReports: 9999,
		})

		verdict := enforcer.Check(entitlement.ResourceReports, 1)
		assert.True(t, verdict.Allowed)
		assert.Nil(t, verdict.CurrentUsage)
	})

	t.Run("zero limit denies as feature absent", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{})

		verdict := enforcer.Check(entitlement.ResourcePDFExports, 1)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, entitlement.ReasonFeatureNotAvailable, verdict.Reason)
		assert.NotEmpty(t, verdict.UpgradeMessage)
		assert.Equal(t, entitlement.PlanStarter, verdict.SuggestedPlan)
	})

	t.Run("allows under the cap and echoes usage", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{
			entitlement.ResourceParentAccounts: 1,
		})

		verdict := enforcer.Check(entitlement.ResourceParentAccounts, 1)
		assert.True(t, verdict.Allowed)
		require.NotNil(t, verdict.CurrentUsage)
		require.NotNil(t, verdict.Limit)
		assert.Equal(t, int64(1), *verdict.CurrentUsage)
		assert.Equal(t, int64(2), *verdict.Limit)
		assert.InDelta(t, 50.0, enforcer.UsagePercentage(entitlement.ResourceParentAccounts), 0.001)
	})

	t.Run("denial boundary is used+amount > limit", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name    string
			used    int64
			amount  int64
			allowed bool
		}{
			{"exactly fills the cap", 20, 5, true},
			{"one over the cap", 21, 5, false},
			{"big amount from zero", 0, 26, false},
			{"full amount from zero", 0, 25, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				enforcer, _ := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{
					entitlement.ResourceLessonPlans: tt.used,
				})

				verdict := enforcer.Check(entitlement.ResourceLessonPlans, tt.amount)
				assert.Equal(t, tt.allowed, verdict.Allowed)
			})
		}
	})

	t.Run("pure between mutations", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{
			entitlement.ResourceMessages: 49,
		})

		first := enforcer.Check(entitlement.ResourceMessages, 1)
		second := enforcer.Check(entitlement.ResourceMessages, 1)
		assert.Equal(t, first.Allowed, second.Allowed)
		assert.Equal(t, first.Reason, second.Reason)
		assert.Equal(t, *first.CurrentUsage, *second.CurrentUsage)
		assert.Equal(t, *first.Limit, *second.Limit)
	})

	t.Run("unknown plan falls back to free limits", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanID("legacy_gold"), entitlement.Snapshot{
			entitlement.ResourceLessonPlans: 10,
		})

		verdict := enforcer.Check(entitlement.ResourceLessonPlans, 1)
		assert.False(t, verdict.Allowed)
		require.NotNil(t, verdict.Limit)
		assert.Equal(t, int64(10), *verdict.Limit)
	})
}

func TestEnforcer_CheckAndEnforce(t *testing.T) {
	t.Parallel()

	t.Run("dispatches prompt on quota denial", func(t *testing.T) {
		t.Parallel()

		dispatcher := &capturingDispatcher{}
		enforcer, _ := newEnforcer(t, entitlement.PlanFree,
			entitlement.Snapshot{entitlement.ResourceLessonPlans: 10},
			entitlement.WithDispatcher(dispatcher))

		ok := enforcer.CheckAndEnforce(context.Background(), entitlement.ResourceLessonPlans, 1, "Lesson Builder")
		assert.False(t, ok)

		prompts := dispatcher.waitFor(t, 1)
		require.Len(t, prompts, 1)
		assert.Equal(t, "Lesson Builder", prompts[0].Feature)
		assert.Equal(t, "high", prompts[0].Urgency)
		assert.Equal(t, "usage-limit", prompts[0].Source)
		assert.Equal(t, "Lesson Plan Limit Reached", prompts[0].Title)
		assert.Equal(t, entitlement.PlanStarter, prompts[0].SuggestedPlan)
		require.NotNil(t, prompts[0].CurrentUsage)
		assert.Equal(t, int64(10), *prompts[0].CurrentUsage)
	})

	t.Run("no prompt while snapshot is missing", func(t *testing.T) {
		t.Parallel()

		dispatcher := &capturingDispatcher{}
		enforcer, _ := newEnforcer(t, entitlement.PlanFree, nil,
			entitlement.WithDispatcher(dispatcher))

		ok := enforcer.CheckAndEnforce(context.Background(), entitlement.ResourceLessonPlans, 1, "")
		assert.False(t, ok)
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, dispatcher.all())
	})

	t.Run("approval has no side effects", func(t *testing.T) {
		t.Parallel()

		dispatcher := &capturingDispatcher{}
		enforcer, client := newEnforcer(t, entitlement.PlanStarter,
			entitlement.Snapshot{entitlement.ResourceForms: 0},
			entitlement.WithDispatcher(dispatcher))

		ok := enforcer.CheckAndEnforce(context.Background(), entitlement.ResourceForms, 1, "")
		assert.True(t, ok)
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, dispatcher.all())
		assert.Zero(t, client.increment)
		assert.Equal(t, int64(0), enforcer.Usage()[entitlement.ResourceForms])
	})

	t.Run("resource id used when no feature label given", func(t *testing.T) {
		t.Parallel()

		dispatcher := &capturingDispatcher{}
		enforcer, _ := newEnforcer(t, entitlement.PlanFree,
			entitlement.Snapshot{},
			entitlement.WithDispatcher(dispatcher))

		enforcer.CheckAndEnforce(context.Background(), entitlement.ResourceReports, 1, "")

		prompts := dispatcher.waitFor(t, 1)
		require.Len(t, prompts, 1)
		assert.Equal(t, string(entitlement.ResourceReports), prompts[0].Feature)
	})

	t.Run("denial does not wait on prompt delivery", func(t *testing.T) {
		t.Parallel()

		dispatcher := &slowDispatcher{
			delay:     300 * time.Millisecond,
			delivered: make(chan entitlement.UpgradePrompt, 1),
		}
		enforcer, _ := newEnforcer(t, entitlement.PlanFree,
			entitlement.Snapshot{entitlement.ResourceLessonPlans: 10},
			entitlement.WithDispatcher(dispatcher))

		start := time.Now()
		ok := enforcer.CheckAndEnforce(context.Background(), entitlement.ResourceLessonPlans, 1, "")
		elapsed := time.Since(start)

		assert.False(t, ok)
		assert.Less(t, elapsed, 150*time.Millisecond, "denial must not block on the dispatcher")

		select {
		case prompt := <-dispatcher.delivered:
			assert.Equal(t, "Lesson Plan Limit Reached", prompt.Title)
		case <-time.After(time.Second):
			t.Fatal("prompt was never delivered")
		}
	})

	t.Run("prompt survives caller context cancellation", func(t *testing.T) {
		t.Parallel()

		dispatcher := &slowDispatcher{
			delay:     50 * time.Millisecond,
			delivered: make(chan entitlement.UpgradePrompt, 1),
		}
		enforcer, _ := newEnforcer(t, entitlement.PlanFree,
			entitlement.Snapshot{entitlement.ResourceLessonPlans: 10},
			entitlement.WithDispatcher(dispatcher))

		ctx, cancel := context.WithCancel(context.Background())
		ok := enforcer.CheckAndEnforce(ctx, entitlement.ResourceLessonPlans, 1, "")
		cancel()

		assert.False(t, ok)
		select {
		case <-dispatcher.delivered:
			assert.NoError(t, dispatcher.ctxErr, "dispatch context must outlive the caller's")
		case <-time.After(time.Second):
			t.Fatal("prompt was never delivered")
		}
	})
}

func TestEnforcer_Increment(t *testing.T) {
	t.Parallel()

	t.Run("overwrites local counter with authoritative total", func(t *testing.T) {
		t.Parallel()

		enforcer, client := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{
			entitlement.ResourceLessonPlans: 3,
		})
		client.totals = map[entitlement.Resource]int64{entitlement.ResourceLessonPlans: 3}

		require.NoError(t, enforcer.Increment(context.Background(), entitlement.ResourceLessonPlans, 2))
		assert.Equal(t, int64(5), enforcer.Usage()[entitlement.ResourceLessonPlans])
	})

	t.Run("failure leaves snapshot unchanged", func(t *testing.T) {
		t.Parallel()

		enforcer, client := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{
			entitlement.ResourceLessonPlans: 3,
		})
		client.incErr = errors.New("network down")

		err := enforcer.Increment(context.Background(), entitlement.ResourceLessonPlans, 1)
		assert.ErrorIs(t, err, entitlement.ErrFailedToIncrementUsage)
		assert.Equal(t, int64(3), enforcer.Usage()[entitlement.ResourceLessonPlans])
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()

		enforcer, client := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{})

		err := enforcer.Increment(context.Background(), entitlement.ResourceLessonPlans, 0)
		assert.ErrorIs(t, err, entitlement.ErrInvalidIncrementAmount)
		assert.Zero(t, client.increment)
	})
}

func TestEnforcer_RefreshUsage(t *testing.T) {
	t.Parallel()

	t.Run("deferred until plan resolves", func(t *testing.T) {
		t.Parallel()

		client := &fakeAccountingClient{snapshot: entitlement.Snapshot{}}
		enforcer, err := entitlement.New(context.Background(),
			entitlement.NewInMemSource(entitlement.DefaultPlans()), client)
		require.NoError(t, err)

		err = enforcer.RefreshUsage(context.Background())
		assert.ErrorIs(t, err, entitlement.ErrPlanNotResolved)
		assert.Zero(t, client.fetches)

		enforcer.SetPlan(entitlement.PlanFree)
		require.NoError(t, enforcer.RefreshUsage(context.Background()))
		assert.True(t, enforcer.Loaded())
	})

	t.Run("failure keeps prior snapshot", func(t *testing.T) {
		t.Parallel()

		enforcer, client := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{
			entitlement.ResourceLessonPlans: 4,
		})

		client.fetchErr = errors.New("upstream 500")
		err := enforcer.RefreshUsage(context.Background())
		assert.ErrorIs(t, err, entitlement.ErrFailedToFetchUsage)
		assert.Equal(t, int64(4), enforcer.Usage()[entitlement.ResourceLessonPlans])
	})
}

func TestEnforcer_DerivedQueries(t *testing.T) {
	t.Parallel()

	t.Run("percentage clamps and handles sentinels", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanPremium, entitlement.Snapshot{
			entitlement.ResourceReports:        9999, // unlimited
			entitlement.ResourceChildProfiles:  150,  // over the 100 cap
			entitlement.ResourceStaffAccounts:  3,    // exactly full
			entitlement.ResourceParentAccounts: 5,    // 25% of 20
		})

		assert.Zero(t, enforcer.UsagePercentage(entitlement.ResourceReports))
		assert.InDelta(t, 100.0, enforcer.UsagePercentage(entitlement.ResourceChildProfiles), 0.001)
		assert.InDelta(t, 100.0, enforcer.UsagePercentage(entitlement.ResourceStaffAccounts), 0.001)
		assert.InDelta(t, 25.0, enforcer.UsagePercentage(entitlement.ResourceParentAccounts), 0.001)
	})

	t.Run("percentage monotonic in usage", func(t *testing.T) {
		t.Parallel()

		prev := -1.0
		for used := int64(0); used <= 30; used++ {
			enforcer, _ := newEnforcer(t, entitlement.PlanStarter, entitlement.Snapshot{
				entitlement.ResourceLessonPlans: used,
			})
			pct := enforcer.UsagePercentage(entitlement.ResourceLessonPlans)
			assert.GreaterOrEqual(t, pct, prev)
			assert.LessOrEqual(t, pct, 100.0)
			prev = pct
		}
	})

	t.Run("near and exceeded thresholds", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{
			entitlement.ResourceLessonPlans: 8, // 80% of 10
		})

		assert.True(t, enforcer.IsNearLimit(entitlement.ResourceLessonPlans))
		assert.False(t, enforcer.HasExceededLimit(entitlement.ResourceLessonPlans))
	})

	t.Run("usage with limits snapshot", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanPremium, entitlement.Snapshot{
			entitlement.ResourceLessonPlans:   12,
			entitlement.ResourceChildProfiles: 40,
		})

		all := enforcer.UsageWithLimits()
		require.NotNil(t, all)

		lessons := all[entitlement.ResourceLessonPlans]
		assert.Equal(t, entitlement.RemainingUnlimited, lessons.Remaining)
		assert.Zero(t, lessons.Percentage)

		profiles := all[entitlement.ResourceChildProfiles]
		assert.Equal(t, entitlement.Remaining(60), profiles.Remaining)
		assert.InDelta(t, 40.0, profiles.Percentage, 0.001)
		assert.False(t, profiles.NearLimit)
	})

	t.Run("nil before load", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, nil)
		assert.Nil(t, enforcer.UsageWithLimits())
		assert.Zero(t, enforcer.UsagePercentage(entitlement.ResourceLessonPlans))
	})
}

func TestEnforcer_Features(t *testing.T) {
	t.Parallel()

	t.Run("has feature on own tier", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanEducator, entitlement.Snapshot{})
		assert.True(t, enforcer.HasFeature(entitlement.FeatureParentPortal))
		assert.False(t, enforcer.HasFeature(entitlement.FeatureWhiteLabel))
	})

	t.Run("check feature suggests carrying tier on the path", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{})

		verdict := enforcer.CheckFeature(entitlement.FeatureComplianceReports)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, entitlement.ReasonFeatureNotAvailable, verdict.Reason)
		assert.Equal(t, entitlement.PlanEducator, verdict.SuggestedPlan)
		assert.Contains(t, verdict.UpgradeMessage, "Educator")
	})

	t.Run("falls back to static next tier", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{})

		// ai-assessment lives on ai_library, which is off the free tier's path.
		verdict := enforcer.CheckFeature(entitlement.FeatureAIAssessment)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, entitlement.PlanStarter, verdict.SuggestedPlan)
	})
}

func TestEnforcer_UpgradeRaisesLimit(t *testing.T) {
	t.Parallel()

	t.Run("raised limit detected", func(t *testing.T) {
		t.Parallel()

		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{})
		assert.True(t, enforcer.UpgradeRaisesLimit(entitlement.ResourceLessonPlans))
	})

	t.Run("unchanged limit detected", func(t *testing.T) {
		t.Parallel()

		// Staff accounts stay at 1 from free to starter.
		enforcer, _ := newEnforcer(t, entitlement.PlanFree, entitlement.Snapshot{})
		assert.False(t, enforcer.UpgradeRaisesLimit(entitlement.ResourceStaffAccounts))
	})
}
