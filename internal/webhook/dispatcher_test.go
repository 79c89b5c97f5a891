package webhook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kreezus/yengapay-gateway/internal/lock"
	"github.com/kreezus/yengapay-gateway/internal/order"
	"github.com/kreezus/yengapay-gateway/internal/webhook"
	"github.com/kreezus/yengapay-gateway/internal/yengapay"
)

const testSecret = "whsec_test"

type fakeOrderStore struct {
	mu          sync.Mutex
	orders      map[string]order.Order
	transitions []order.TransitionInput
	failWith    error
}

func newFakeOrderStore(orders ...order.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: map[string]order.Order{}}
	for _, o := range orders {
		s.orders[o.Reference] = o
	}
	return s
}

func (s *fakeOrderStore) GetByReference(_ context.Context, reference string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reference]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *fakeOrderStore) Transition(_ context.Context, in order.TransitionInput) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return order.Order{}, s.failWith
	}
	for ref, o := range s.orders {
		if o.ID == in.OrderID {
			if o.Status != in.From {
				return order.Order{}, order.ErrStatusConflict
			}
			o.Status = in.To
			if in.TransactionID != "" {
				o.TransactionID = in.TransactionID
			}
			s.orders[ref] = o
			s.transitions = append(s.transitions, in)
			return o, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

func (s *fakeOrderStore) transitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transitions)
}

func newDispatcher(store *fakeOrderStore) *webhook.Dispatcher {
	return &webhook.Dispatcher{
		Secret: testSecret,
		Orders: store,
		Logger: zerolog.Nop(),
	}
}

func signed(body string) (string, []byte) {
	raw := []byte(body)
	return yengapay.ComputeSignature(testSecret, raw), raw
}

func mustUUID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

func awaitingOrder(reference string) order.Order {
	return order.Order{
		ID:        mustUUID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Reference: reference,
		Status:    order.StatusAwaitingPayment,
		Currency:  "XOF",
		Total:     12500,
	}
}

func TestProcessRejectsUnauthenticatedDeliveries(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)
	ctx := context.Background()

	cases := []struct {
		name      string
		secret    string
		signature string
		body      string
		reason    string
	}{
		{"empty body", testSecret, "deadbeef", "", "empty payload"},
		{"missing header", testSecret, "", `{"reference":"REF123AAA","paymentStatus":"DONE"}`, "missing header"},
		{"missing secret", "", "deadbeef", `{"reference":"REF123AAA","paymentStatus":"DONE"}`, "missing secret"},
		{"tampered body", testSecret, "deadbeef", `{"reference":"REF123AAA","paymentStatus":"DONE"}`, "signature mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d.Secret = tc.secret
			res := d.Process(ctx, tc.signature, []byte(tc.body))
			require.Equal(t, webhook.StateRejected, res.State)
			require.Equal(t, tc.reason, res.Reason)
			require.False(t, res.Mutated)
		})
	}
	require.Zero(t, store.transitionCount())
}

func TestProcessRejectsValidSignatureOverTamperedBody(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)

	sig, body := signed(`{"reference":"REF123AAA","paymentStatus":"DONE"}`)
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'X'

	res := d.Process(context.Background(), sig, tampered)
	require.Equal(t, webhook.StateRejected, res.State)
	require.Equal(t, "signature mismatch", res.Reason)
	require.Zero(t, store.transitionCount())
}

func TestProcessRejectsMalformedPayloads(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)
	ctx := context.Background()

	for _, body := range []string{
		`{not json`,
		`{"paymentStatus":"DONE"}`,
		`{"reference":"REF123AAA"}`,
	} {
		sig, raw := signed(body)
		res := d.Process(ctx, sig, raw)
		require.Equal(t, webhook.StateRejected, res.State, body)
		require.Equal(t, "malformed payload", res.Reason, body)
	}
	require.Zero(t, store.transitionCount())
}

func TestProcessRejectsUnknownReferenceAndStatus(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)
	ctx := context.Background()

	sig, raw := signed(`{"reference":"NOPE","paymentStatus":"DONE"}`)
	res := d.Process(ctx, sig, raw)
	require.Equal(t, webhook.StateRejected, res.State)
	require.Equal(t, "order not found", res.Reason)

	sig, raw = signed(`{"reference":"REF123AAA","paymentStatus":"REFUNDED"}`)
	res = d.Process(ctx, sig, raw)
	require.Equal(t, webhook.StateRejected, res.State)
	require.Equal(t, "unknown status", res.Reason)

	require.Zero(t, store.transitionCount())
}

func TestProcessAppliesConfirmedPayment(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE","id":"tx-991"}`)
	res := d.Process(context.Background(), sig, raw)

	require.Equal(t, webhook.StateApplied, res.State)
	require.True(t, res.Mutated)
	require.Equal(t, order.StatusPaid, res.Order.Status)
	require.Equal(t, "tx-991", res.Order.TransactionID)

	require.Equal(t, 1, store.transitionCount())
	in := store.transitions[0]
	require.Equal(t, order.StatusAwaitingPayment, in.From)
	require.Equal(t, order.StatusPaid, in.To)
	require.Equal(t, "YengaPay payment confirmed. Transaction ID: tx-991", in.Comment)
}

func TestProcessStatusMapping(t *testing.T) {
	cases := []struct {
		payment string
		want    order.Status
		comment string
	}{
		{"FAILED", order.StatusPaymentError, "YengaPay payment failed."},
		{"CANCELLED", order.StatusCanceled, "YengaPay payment cancelled by the customer."},
	}
	for _, tc := range cases {
		t.Run(tc.payment, func(t *testing.T) {
			store := newFakeOrderStore(awaitingOrder("REF123AAA"))
			d := newDispatcher(store)

			sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"` + tc.payment + `","id":"tx-1"}`)
			res := d.Process(context.Background(), sig, raw)

			require.True(t, res.Mutated)
			require.Equal(t, tc.want, res.Order.Status)
			require.Empty(t, res.Order.TransactionID, "transaction id only recorded on confirmation")
			require.Equal(t, tc.comment, store.transitions[0].Comment)
		})
	}
}

func TestProcessPendingOnAwaitingIsNoop(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"PENDING"}`)
	res := d.Process(context.Background(), sig, raw)

	require.Equal(t, webhook.StateApplied, res.State)
	require.False(t, res.Mutated)
	require.Zero(t, store.transitionCount())
}

func TestProcessTerminalStatusesAreSticky(t *testing.T) {
	paid := awaitingOrder("REF123AAA")
	paid.Status = order.StatusPaid
	paid.TransactionID = "tx-1"
	store := newFakeOrderStore(paid)
	d := newDispatcher(store)
	ctx := context.Background()

	for _, payment := range []string{"PENDING", "FAILED", "CANCELLED", "DONE"} {
		sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"` + payment + `"}`)
		res := d.Process(ctx, sig, raw)
		require.Equal(t, webhook.StateApplied, res.State, payment)
		require.False(t, res.Mutated, payment)
	}
	require.Zero(t, store.transitionCount())

	got, err := store.GetByReference(ctx, "REF123AAA")
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, got.Status)
	require.Equal(t, "tx-1", got.TransactionID)
}

func TestProcessLostRaceIsAcknowledged(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	store.failWith = order.ErrStatusConflict
	d := newDispatcher(store)

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE","id":"tx-9"}`)
	res := d.Process(context.Background(), sig, raw)

	require.Equal(t, webhook.StateApplied, res.State)
	require.False(t, res.Mutated)
}

func TestProcessRejectedDeliveryStaysRetryable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	store.failWith = errors.New("connection reset")
	d := newDispatcher(store)
	d.Replay = client
	d.ReplayTTL = time.Hour
	d.Locks = &lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	d.LockTTL = time.Second

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE","id":"tx-5"}`)
	ctx := context.Background()

	first := d.Process(ctx, sig, raw)
	require.Equal(t, webhook.StateRejected, first.State)
	require.Equal(t, "processing failed", first.Reason)

	store.mu.Lock()
	store.failWith = nil
	store.mu.Unlock()

	retry := d.Process(ctx, sig, raw)
	require.Equal(t, webhook.StateApplied, retry.State)
	require.True(t, retry.Mutated, "the resent body must get a fresh attempt")

	got, err := store.GetByReference(ctx, "REF123AAA")
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, got.Status)
	require.Equal(t, "tx-5", got.TransactionID)
}

func TestProcessUnknownOrderStaysRetryable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeOrderStore()
	d := newDispatcher(store)
	d.Replay = client
	d.ReplayTTL = time.Hour

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE"}`)
	ctx := context.Background()

	first := d.Process(ctx, sig, raw)
	require.Equal(t, webhook.StateRejected, first.State)
	require.Equal(t, "order not found", first.Reason)

	store.mu.Lock()
	ord := awaitingOrder("REF123AAA")
	store.orders[ord.Reference] = ord
	store.mu.Unlock()

	retry := d.Process(ctx, sig, raw)
	require.True(t, retry.Mutated, "the delivery applies once the order exists")
}

func TestProcessDeduplicatesReplayedDeliveries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	d := newDispatcher(store)
	d.Replay = client
	d.ReplayTTL = time.Hour
	d.Locks = &lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	d.LockTTL = time.Second

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE","id":"tx-5"}`)
	ctx := context.Background()

	first := d.Process(ctx, sig, raw)
	require.True(t, first.Mutated)

	second := d.Process(ctx, sig, raw)
	require.Equal(t, webhook.StateApplied, second.State)
	require.False(t, second.Mutated)

	require.Equal(t, 1, store.transitionCount())
}
