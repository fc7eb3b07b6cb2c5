package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/remote"
	"github.com/pzron/ecom-sub001/internal/store"
	"github.com/pzron/ecom-sub001/pkg/logger"
)

var testCred = domain.Credentials{UserID: "user-1", Token: "tok-1"}

func snap(id string) domain.Snapshot {
	return domain.Snapshot{ProductID: id, Name: "Product " + id, Price: 1000, InStock: true}
}

func timeoutErr() error {
	return &remote.Error{Class: remote.ClassTransient, Err: context.DeadlineExceeded}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestEngine(t *testing.T, kind domain.Kind, r Remote) (*Engine, *store.Store) {
	t.Helper()
	s := store.New(kind, store.WithLogger(logger.Discard()))
	cfg := DefaultConfig()
	cfg.PushRate = 0
	e := New(kind, s, r, logger.Discard(), cfg, WithSleep(noSleep))
	t.Cleanup(e.Close)
	return e, s
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

func productIDs(items []domain.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ProductID)
	}
	return out
}

func TestAnonymous_NoNetworkCalls(t *testing.T) {
	fr := newFakeRemote("p9")
	e, s := newTestEngine(t, domain.KindWishlist, fr)

	require.NoError(t, e.Start(context.Background(), nil))
	s.Add(snap("p1"), 1)
	s.Remove("p1")
	s.Add(snap("p2"), 1)

	res, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)

	waitIdle(t, e)
	assert.Empty(t, fr.allCalls())
	assert.Zero(t, fr.lists)
	assert.Empty(t, e.Pending())
	assert.Equal(t, []string{"p2"}, productIDs(s.Items()))
}

func TestPush_CreateLinksRecordID(t *testing.T) {
	fr := newFakeRemote()
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	s.Add(snap("p1"), 1)
	waitIdle(t, e)

	item, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, fr.record("p1").ID, item.RecordID)
	assert.Len(t, fr.callsFor(domain.OpCreate), 1)
	assert.Empty(t, e.Pending())
}

func TestPush_CartIncrementUpdatesQuantity(t *testing.T) {
	fr := newFakeRemote()
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	s.Add(snap("e2"), 1)
	s.Add(snap("e2"), 1)
	waitIdle(t, e)

	item, _ := s.Get("e2")
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, 2, fr.record("e2").Quantity)

	s.SetQuantity("e2", 5)
	waitIdle(t, e)
	assert.Equal(t, 5, fr.record("e2").Quantity)

	ops := fr.allCalls()
	require.Len(t, ops, 3)
	assert.Equal(t, domain.OpCreate, ops[0].op)
	assert.Equal(t, domain.OpUpdateQuantity, ops[1].op)
	assert.Equal(t, domain.OpUpdateQuantity, ops[2].op)
}

func TestPush_UpdateWithoutRecordIsCreate(t *testing.T) {
	fr := newFakeRemote()
	fr.failNext(domain.OpCreate, &remote.Error{Class: remote.ClassPermanent, Status: 400})
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	s.Add(snap("p1"), 1)
	waitIdle(t, e)
	assert.False(t, fr.has("p1"))

	s.SetQuantity("p1", 3)
	waitIdle(t, e)

	creates := fr.callsFor(domain.OpCreate)
	require.Len(t, creates, 2)
	assert.Equal(t, 3, creates[1].quantity)
	assert.Empty(t, fr.callsFor(domain.OpUpdateQuantity))
	assert.Equal(t, 3, fr.record("p1").Quantity)
}

func TestPush_RemoveTimesOutTwice(t *testing.T) {
	fr := newFakeRemote("e1")
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))
	require.True(t, s.IsPresent("e1"))

	fr.failNext(domain.OpDelete, timeoutErr(), timeoutErr())
	s.Remove("e1")
	waitIdle(t, e)

	assert.Len(t, fr.callsFor(domain.OpDelete), 2)
	assert.Empty(t, e.Pending(), "sync record cleared once the retry budget is spent")
	assert.False(t, s.IsPresent("e1"), "local removal stands")
	assert.True(t, fr.has("e1"))
}

func TestPush_TransientFailureRetriedOnce(t *testing.T) {
	fr := newFakeRemote()
	fr.failNext(domain.OpCreate, timeoutErr())
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	s.Add(snap("p1"), 1)
	waitIdle(t, e)

	assert.Len(t, fr.callsFor(domain.OpCreate), 2)
	assert.True(t, fr.has("p1"))
	item, _ := s.Get("p1")
	assert.NotEmpty(t, item.RecordID)
}

func TestPush_ValidationFailureAttachesWarning(t *testing.T) {
	fr := newFakeRemote()
	fr.failNext(domain.OpCreate, &remote.Error{
		Class:   remote.ClassValidation,
		Status:  422,
		Code:    "NOT_PURCHASABLE",
		Message: "product is out of stock",
	})
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	s.Add(snap("p1"), 1)
	waitIdle(t, e)

	assert.Len(t, fr.callsFor(domain.OpCreate), 1, "validation failures are not retried")
	assert.True(t, s.IsPresent("p1"), "no rollback")

	w, ok := s.State().Warnings["p1"]
	require.True(t, ok)
	assert.Equal(t, "NOT_PURCHASABLE", w.Code)
	assert.Equal(t, "product is out of stock", w.Message)

	s.SetQuantity("p1", 2)
	waitIdle(t, e)
	_, ok = s.State().Warnings["p1"]
	assert.False(t, ok, "a confirmed push clears the warning")
}

func TestPush_SerializedPerProduct(t *testing.T) {
	fr := newFakeRemote()
	fr.delay = 5 * time.Millisecond
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	for i := 0; i < 3; i++ {
		s.Add(snap("p1"), 1)
		s.Remove("p1")
		s.Add(snap("p2"), 1)
		s.Remove("p2")
	}
	s.Add(snap("p1"), 1)
	waitIdle(t, e)

	assert.Equal(t, 1, fr.maxInflight)

	var p1 []domain.Op
	for _, c := range fr.allCalls() {
		if c.productID == "p1" {
			p1 = append(p1, c.op)
		}
	}
	assert.Equal(t, []domain.Op{
		domain.OpCreate, domain.OpDelete,
		domain.OpCreate, domain.OpDelete,
		domain.OpCreate, domain.OpDelete,
		domain.OpCreate,
	}, p1)
	assert.True(t, fr.has("p1"))
	assert.False(t, fr.has("p2"))

	item, _ := s.Get("p1")
	assert.Equal(t, fr.record("p1").ID, item.RecordID)
}

func TestReconcile_PendingDeleteWins(t *testing.T) {
	fr := newFakeRemote("p1", "p2")
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))
	require.ElementsMatch(t, []string{"p1", "p2"}, productIDs(s.Items()))

	hold := make(chan struct{})
	fr.mu.Lock()
	fr.hold = hold
	fr.mu.Unlock()

	s.Remove("p1")
	assert.Equal(t, domain.StatePendingDelete, e.Pending()["p1"])

	// The server still lists p1 while the delete is in flight.
	res, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.False(t, s.IsPresent("p1"))

	close(hold)
	waitIdle(t, e)
	assert.False(t, s.IsPresent("p1"))
	assert.False(t, fr.has("p1"))
}

func TestReconcile_Idempotent(t *testing.T) {
	fr := newFakeRemote("a", "b")
	e, s := newTestEngine(t, domain.KindCart, fr)
	s.Add(snap("a"), 4)
	s.Add(snap("c"), 1)

	require.NoError(t, e.Start(context.Background(), &testCred))
	first := s.Items()

	_, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	second := s.Items()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b"}, productIDs(second))
	assert.Equal(t, 1, second[0].Quantity, "server wins on confirmed state")
	assert.Equal(t, "server a", second[0].Snapshot.Name)
	assert.Equal(t, fr.record("b").CreatedAt, second[1].AddedAt)
	assert.Empty(t, fr.callsFor(domain.OpCreate), "no adoption outside login")
}

func TestLogin_AdoptsGuestItems(t *testing.T) {
	fr := newFakeRemote("e3", "e5")
	e, s := newTestEngine(t, domain.KindWishlist, fr)

	require.NoError(t, e.Start(context.Background(), nil))
	s.Add(snap("e1"), 1)
	s.Add(snap("e3"), 1)
	localE3, _ := s.Get("e3")

	require.NoError(t, e.Login(context.Background(), testCred))
	waitIdle(t, e)

	assert.Equal(t, []string{"e1", "e3", "e5"}, productIDs(s.Items()))
	assert.True(t, fr.has("e1"), "guest item pushed as create")

	creates := fr.callsFor(domain.OpCreate)
	require.Len(t, creates, 1)
	assert.Equal(t, "e1", creates[0].productID)

	e3, _ := s.Get("e3")
	assert.Equal(t, localE3.ItemID, e3.ItemID)
	assert.Equal(t, fr.record("e3").ID, e3.RecordID)

	e1, _ := s.Get("e1")
	assert.Equal(t, fr.record("e1").ID, e1.RecordID)

	// Same session again: no second reconciliation.
	require.NoError(t, e.Login(context.Background(), testCred))
	assert.Equal(t, 1, fr.lists)
}

func TestLogin_RejectsAnonymousCredentials(t *testing.T) {
	e, _ := newTestEngine(t, domain.KindCart, newFakeRemote())
	assert.Error(t, e.Login(context.Background(), domain.Credentials{UserID: "u"}))
}

func TestLogout_DropsWishlistIdentityAndQueue(t *testing.T) {
	fr := newFakeRemote("p1")
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	hold := make(chan struct{})
	fr.mu.Lock()
	fr.hold = hold
	fr.mu.Unlock()

	s.Add(snap("p2"), 1)
	require.Eventually(t, func() bool { return len(fr.allCalls()) == 1 }, 2*time.Second, time.Millisecond)
	s.Remove("p2")
	e.Logout()
	close(hold)
	waitIdle(t, e)

	assert.Len(t, fr.allCalls(), 1, "queued delete abandoned")
	assert.Nil(t, e.Credentials())

	item, ok := s.Get("p1")
	require.True(t, ok)
	assert.Empty(t, item.RecordID)

	s.Add(snap("p3"), 1)
	waitIdle(t, e)
	assert.Len(t, fr.allCalls(), 1, "no pushes while logged out")
}

func TestLogout_CartKeepsItems(t *testing.T) {
	fr := newFakeRemote("p1")
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	e.Logout()
	item, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, fr.record("p1").ID, item.RecordID)
}

func TestReconcile_PullFailureLeavesStore(t *testing.T) {
	fr := newFakeRemote("p1")
	fr.listErr = timeoutErr()
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	s.Add(snap("local"), 1)

	err := e.Start(context.Background(), &testCred)
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))
	assert.Equal(t, []string{"local"}, productIDs(s.Items()))
	assert.False(t, s.State().Loading)
}

func TestReconcile_CountsSkipped(t *testing.T) {
	fr := newFakeRemote("p1")
	fr.skipped = 2
	e, _ := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Start(context.Background(), &testCred))

	res, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Confirmed)
}

func TestClose(t *testing.T) {
	fr := newFakeRemote()
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	e.Close()
	s.Add(snap("p1"), 1)
	assert.Empty(t, fr.allCalls())

	_, err := e.Reconcile(context.Background(), ReconcileOptions{})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestPush_CreateOfCommittedRecordCatchesUpQuantity(t *testing.T) {
	fr := newFakeRemote()
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	fr.failNext(domain.OpCreate, timeoutErr(), timeoutErr())
	s.Add(snap("p1"), 1)
	waitIdle(t, e)

	// The server committed the create although both attempts timed out.
	committed := fr.commit("p1", 1)

	s.Add(snap("p1"), 1)
	waitIdle(t, e)

	assert.Equal(t, []call{
		{op: domain.OpCreate, productID: "p1", quantity: 1},
		{op: domain.OpCreate, productID: "p1", quantity: 1},
		{op: domain.OpCreate, productID: "p1", quantity: 2},
		{op: domain.OpUpdateQuantity, productID: "p1", quantity: 2},
	}, fr.allCalls())
	assert.Equal(t, 2, fr.record("p1").Quantity)
	assert.Empty(t, e.Pending())

	item, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, committed.ID, item.RecordID)

	_, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	item, _ = s.Get("p1")
	assert.Equal(t, 2, item.Quantity, "server and client agree after the follow-up")
}

type reconcileOutcome struct {
	res ReconcileResult
	err error
}

// reconcileBlocked starts a reconciliation whose pull has read the server
// records but not yet returned them.
func reconcileBlocked(t *testing.T, e *Engine, fr *fakeRemote) (release func() ReconcileResult) {
	t.Helper()
	listed, unblock := fr.blockNextList()
	done := make(chan reconcileOutcome, 1)
	go func() {
		res, err := e.Reconcile(context.Background(), ReconcileOptions{})
		done <- reconcileOutcome{res: res, err: err}
	}()

	select {
	case <-listed:
	case <-time.After(5 * time.Second):
		t.Fatal("pull never started")
	}

	return func() ReconcileResult {
		unblock()
		out := <-done
		require.NoError(t, out.err)
		return out.res
	}
}

func TestReconcile_AddConfirmedDuringPullSurvives(t *testing.T) {
	fr := newFakeRemote()
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	release := reconcileBlocked(t, e, fr)

	s.Add(snap("p1"), 1)
	require.Eventually(t, func() bool {
		return fr.has("p1") && len(e.Pending()) == 0
	}, 5*time.Second, time.Millisecond)

	res := release()
	assert.Equal(t, 1, res.Kept)
	assert.Zero(t, res.Dropped)

	item, ok := s.Get("p1")
	require.True(t, ok, "a stale pull must not undo a confirmed add")
	assert.Equal(t, fr.record("p1").ID, item.RecordID)

	// The next pull sees the record and has nothing left to protect.
	res, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Zero(t, res.Kept)
}

func TestReconcile_DeleteConfirmedDuringPullStaysDeleted(t *testing.T) {
	fr := newFakeRemote("p1", "p2")
	e, s := newTestEngine(t, domain.KindWishlist, fr)
	require.NoError(t, e.Login(context.Background(), testCred))
	require.True(t, s.IsPresent("p1"))

	release := reconcileBlocked(t, e, fr)

	s.Remove("p1")
	require.Eventually(t, func() bool {
		return !fr.has("p1") && len(e.Pending()) == 0
	}, 5*time.Second, time.Millisecond)

	res := release()
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, res.Confirmed)
	assert.False(t, s.IsPresent("p1"), "a stale pull must not resurrect a confirmed delete")
	assert.Equal(t, []string{"p2"}, productIDs(s.Items()))
}

func TestReconcile_UntouchedProductsStillFollowServer(t *testing.T) {
	fr := newFakeRemote("p1", "p2")
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	release := reconcileBlocked(t, e, fr)
	s.SetQuantity("p1", 4)
	require.Eventually(t, func() bool {
		return fr.record("p1").Quantity == 4 && len(e.Pending()) == 0
	}, 5*time.Second, time.Millisecond)

	fr.mu.Lock()
	rec := fr.records["p2"]
	rec.Quantity = 7
	fr.records["p2"] = rec
	fr.mu.Unlock()

	release()

	p1, _ := s.Get("p1")
	assert.Equal(t, 4, p1.Quantity)
	p2, _ := s.Get("p2")
	assert.Equal(t, 1, p2.Quantity, "the list was read before the server change")

	_, err := e.Reconcile(context.Background(), ReconcileOptions{})
	require.NoError(t, err)
	p2, _ = s.Get("p2")
	assert.Equal(t, 7, p2.Quantity)
}

func TestMetrics_CountPushesAndReconciles(t *testing.T) {
	pushes := pushesTotal.WithLabelValues("cart", "create", "ok")
	retries := retriesTotal.WithLabelValues("cart", "create")
	reconciles := reconcilesTotal.WithLabelValues("cart", "ok")
	skipped := skippedServerItems.WithLabelValues("cart")
	pushesBefore := testutil.ToFloat64(pushes)
	retriesBefore := testutil.ToFloat64(retries)
	reconcilesBefore := testutil.ToFloat64(reconciles)
	skippedBefore := testutil.ToFloat64(skipped)

	fr := newFakeRemote()
	fr.skipped = 3
	fr.failNext(domain.OpCreate, timeoutErr())
	e, s := newTestEngine(t, domain.KindCart, fr)
	require.NoError(t, e.Login(context.Background(), testCred))

	s.Add(snap("m1"), 1)
	waitIdle(t, e)

	assert.Equal(t, pushesBefore+1, testutil.ToFloat64(pushes))
	assert.Equal(t, retriesBefore+1, testutil.ToFloat64(retries))
	assert.Equal(t, reconcilesBefore+1, testutil.ToFloat64(reconciles))
	assert.Equal(t, skippedBefore+3, testutil.ToFloat64(skipped))
}
