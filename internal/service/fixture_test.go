package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/currency"
	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/gateway/sandbox"
	"github.com/ignatzorin/freelance-escrow/internal/infrastructure/persistence/memory"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// clock управляемое время для сервисов, журнала и sweep.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder синхронный публикатор, запоминающий события.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, events ...event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) count(t event.Type) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *clock
	db     *memory.DB
	gw     *sandbox.Gateway
	events *recorder

	catalog *memory.Catalog
	gigID   uuid.UUID
	buyer   uuid.UUID
	seller  uuid.UUID
	admin   uuid.UUID

	orders      *OrderService
	payments    *PaymentService
	withdrawals *WithdrawalService
	disputes    *DisputeService
	wallets     *WalletService
	sweeps      *SweepService
}

type fixtureOptions struct {
	price       string
	allowLate   bool
	maxAttempts int
	// wrapGateway подменяет шлюз, который видят сервисы; f.gw остаётся внутренним.
	wrapGateway func(f *fixture, gw gateway.Gateway) gateway.Gateway
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.price == "" {
		opts.price = "100.00"
	}
	if opts.maxAttempts == 0 {
		opts.maxAttempts = 3
	}

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		clock:   &clock{now: t0},
		db:      memory.New(),
		gw:      sandbox.New("https://app.example/return", false),
		events:  &recorder{},
		catalog: memory.NewCatalog(),
		gigID:   uuid.New(),
		buyer:   uuid.New(),
		seller:  uuid.New(),
		admin:   uuid.New(),
	}
	f.addGig("basic", opts.price)

	usd := valueobject.CurrencyUSD
	feeRate, err := valueobject.NewFeeRate(dec("0.10"))
	require.NoError(t, err)
	converter, err := currency.NewStaticConverter(usd, "")
	require.NoError(t, err)

	var gw gateway.Gateway = f.gw
	if opts.wrapGateway != nil {
		gw = opts.wrapGateway(f, gw)
	}

	now := f.clock.Now
	l := ledger.New(now)
	checker := ledger.NewChecker(f.db, f.events, usd, 50, now)

	f.payments = NewPaymentService(f.db, l, gw, f.events, usd, now)
	f.orders = NewOrderService(OrderDeps{
		UoW:       f.db,
		Ledger:    l,
		Catalog:   f.catalog,
		Converter: converter,
		Gateway:   gw,
		Events:    f.events,
		Policy: OrderPolicy{
			Currency:          usd,
			FeeRate:           feeRate,
			AutoAcceptAfter:   72 * time.Hour,
			FreeCancelWindow:  time.Hour,
			AllowLateDelivery: opts.allowLate,
			ReturnURL:         "https://app.example/orders",
		},
		Now: now,
	}, f.payments)
	f.withdrawals = NewWithdrawalService(f.db, l, gw, f.events, WithdrawalPolicy{
		Currency:    usd,
		MinAmount:   dec("10"),
		RateLimit:   3,
		RateWindow:  time.Hour,
		RetryBase:   time.Minute,
		MaxAttempts: opts.maxAttempts,
		Lease:       2 * time.Minute,
	}, now)
	f.disputes = NewDisputeService(f.db, l, f.events, usd, now)
	f.wallets = NewWalletService(f.db, l, checker, f.events, usd, now)
	f.sweeps = NewSweepService(f.db, f.orders, f.payments, f.withdrawals, f.wallets, SweepPolicy{
		Batch:          2,
		Lease:          2 * time.Minute,
		PaymentTimeout: 30 * time.Minute,
		PayoutGrace:    15 * time.Minute,
	}, now)
	return f
}

func (f *fixture) addGig(tier, price string) {
	gigID := f.gigID
	f.catalog.AddGig(entity.Offer{
		SellerID:     f.seller,
		GigID:        &gigID,
		PackageTier:  tier,
		Title:        "Лендинг под ключ",
		Price:        valueobject.Money{Amount: dec(price), Currency: valueobject.CurrencyUSD},
		DeliveryDays: 3,
		Revisions:    2,
	})
}

func (f *fixture) checkout() *CheckoutResult {
	f.t.Helper()
	gigID := f.gigID
	res, err := f.orders.Checkout(f.ctx, f.buyer, CheckoutInput{GigID: &gigID, Requirements: "адаптивная вёрстка", Method: "card"})
	require.NoError(f.t, err)
	require.NotEmpty(f.t, res.Intent.GatewayReference)
	return res
}

func (f *fixture) confirm(reference string) ApplyOutcome {
	f.t.Helper()
	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, reference, gateway.EventPaymentConfirmed, "hash-"+reference)
	require.NoError(f.t, err)
	return outcome
}

// paidOrder заказ в in_progress с деньгами в эскроу.
func (f *fixture) paidOrder() *entity.Order {
	f.t.Helper()
	res := f.checkout()
	require.Equal(f.t, OutcomeApplied, f.confirm(res.Intent.GatewayReference))
	return f.order(res.Order.ID)
}

// deliveredOrder заказ, сданный продавцом.
func (f *fixture) deliveredOrder() *entity.Order {
	f.t.Helper()
	o := f.paidOrder()
	_, err := f.orders.Deliver(f.ctx, f.seller, o.ID, DeliverInput{Note: "готово", Attachments: []string{"https://files.example/site.zip"}})
	require.NoError(f.t, err)
	return f.order(o.ID)
}

// completedOrder заказ, принятый покупателем: продавец получает цену без комиссии.
func (f *fixture) completedOrder() *entity.Order {
	f.t.Helper()
	o := f.deliveredOrder()
	_, err := f.orders.Accept(f.ctx, f.buyer, o.ID)
	require.NoError(f.t, err)
	return f.order(o.ID)
}

func (f *fixture) order(id uuid.UUID) *entity.Order {
	f.t.Helper()
	o, err := f.db.Store().Orders().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) wallet(id uuid.UUID) *entity.Wallet {
	f.t.Helper()
	w, err := f.wallets.Get(f.ctx, id)
	require.NoError(f.t, err)
	return w
}

func (f *fixture) withdrawal(id uuid.UUID) *entity.WithdrawalRequest {
	f.t.Helper()
	w, err := f.db.Store().Withdrawals().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return w
}

func (f *fixture) orderEntries(orderID uuid.UUID) []entity.LedgerEntry {
	f.t.Helper()
	entries, err := f.db.Store().Ledger().ListByOrder(f.ctx, orderID)
	require.NoError(f.t, err)
	return entries
}

func countKind(entries []entity.LedgerEntry, kind entity.EntryKind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func destination() json.RawMessage {
	return json.RawMessage(`{"type":"card","last4":"4242"}`)
}

// assertReconciled кэш кошельков совпадает с журналом, сумма проводок по валюте равна нулю.
func (f *fixture) assertReconciled() {
	f.t.Helper()
	report, err := f.wallets.Reconcile(f.ctx)
	require.NoError(f.t, err)
	assert.True(f.t, report.Healthy(), "drifts=%v unbalanced=%v", report.Drifts, report.Unbalanced)
}
