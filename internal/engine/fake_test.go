package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/remote"
)

type call struct {
	op        domain.Op
	productID string
	quantity  int
}

// fakeRemote is an in-memory collection API keyed by product id.
type fakeRemote struct {
	mu          sync.Mutex
	records     map[string]domain.RemoteRecord
	nextID      int
	calls       []call
	lists       int
	inflight    map[string]int
	maxInflight int
	failures    map[domain.Op][]error
	listErr     error
	skipped     int
	delay       time.Duration
	hold        chan struct{}
	// listed is closed once List has read the records; List then blocks
	// until release is closed.
	listed  chan struct{}
	release chan struct{}
}

func newFakeRemote(productIDs ...string) *fakeRemote {
	f := &fakeRemote{
		records:  make(map[string]domain.RemoteRecord),
		inflight: make(map[string]int),
		failures: make(map[domain.Op][]error),
	}
	for _, pid := range productIDs {
		f.put(pid, 1)
	}
	return f
}

func (f *fakeRemote) put(productID string, quantity int) domain.RemoteRecord {
	f.nextID++
	rec := domain.RemoteRecord{
		ID:        fmt.Sprintf("rec-%d", f.nextID),
		ProductID: productID,
		Quantity:  quantity,
		Product:   domain.Snapshot{ProductID: productID, Name: "server " + productID, Price: 500, InStock: true},
		CreatedAt: time.Date(2026, 1, f.nextID, 0, 0, 0, 0, time.UTC),
	}
	f.records[productID] = rec
	return rec
}

func (f *fakeRemote) failNext(op domain.Op, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeRemote) enter(op domain.Op, productID string, quantity int) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, productID: productID, quantity: quantity})
	f.inflight[productID]++
	if f.inflight[productID] > f.maxInflight {
		f.maxInflight = f.inflight[productID]
	}
	var err error
	if queued := f.failures[op]; len(queued) > 0 {
		err = queued[0]
		f.failures[op] = queued[1:]
	}
	hold, delay := f.hold, f.delay
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeRemote) leave(productID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight[productID]--
}

func (f *fakeRemote) productOf(recordID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pid, rec := range f.records {
		if rec.ID == recordID {
			return pid
		}
	}
	return "record:" + recordID
}

func (f *fakeRemote) Create(_ context.Context, _ domain.Kind, _ domain.Credentials, productID string, quantity int, snap domain.Snapshot) (domain.RemoteRecord, error) {
	defer f.leave(productID)
	if err := f.enter(domain.OpCreate, productID, quantity); err != nil {
		return domain.RemoteRecord{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[productID]; ok {
		return rec, nil
	}
	rec := f.put(productID, quantity)
	rec.Product = snap
	f.records[productID] = rec
	return rec, nil
}

func (f *fakeRemote) Delete(_ context.Context, _ domain.Kind, _ domain.Credentials, recordID string) error {
	productID := f.productOf(recordID)
	defer f.leave(productID)
	if err := f.enter(domain.OpDelete, productID, 0); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, productID)
	return nil
}

func (f *fakeRemote) UpdateQuantity(_ context.Context, _ domain.Kind, _ domain.Credentials, recordID string, quantity int) error {
	productID := f.productOf(recordID)
	defer f.leave(productID)
	if err := f.enter(domain.OpUpdateQuantity, productID, quantity); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[productID]
	if !ok {
		return &remote.Error{Class: remote.ClassPermanent, Status: 404, Code: "NOT_FOUND"}
	}
	rec.Quantity = quantity
	f.records[productID] = rec
	return nil
}

func (f *fakeRemote) List(_ context.Context, _ domain.Kind, _ domain.Credentials) (remote.ListResult, error) {
	res, err := f.snapshot()
	f.mu.Lock()
	listed, release := f.listed, f.release
	f.listed, f.release = nil, nil
	f.mu.Unlock()
	if listed != nil {
		close(listed)
		<-release
	}
	return res, err
}

// blockNextList makes the next List read the records and then wait until
// the returned func is called.
func (f *fakeRemote) blockNextList() (listed <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, r := make(chan struct{}), make(chan struct{})
	f.listed, f.release = l, r
	return l, func() { close(r) }
}

func (f *fakeRemote) snapshot() (remote.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return remote.ListResult{}, f.listErr
	}
	res := remote.ListResult{Skipped: f.skipped}
	for i := 1; i <= f.nextID; i++ {
		for _, rec := range f.records {
			if rec.ID == fmt.Sprintf("rec-%d", i) {
				res.Records = append(res.Records, rec)
			}
		}
	}
	return res, nil
}

func (f *fakeRemote) commit(productID string, quantity int) domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(productID, quantity)
}

func (f *fakeRemote) callsFor(op domain.Op) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) allCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRemote) has(productID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[productID]
	return ok
}

func (f *fakeRemote) record(productID string) domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[productID]
}
