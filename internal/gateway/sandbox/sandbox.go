// Package sandbox шлюз в памяти процесса для разработки и тестов.
package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/gateway"
)

// Gateway детерминированный шлюз. Повтор вызова с тем же ключом
// идемпотентности возвращает ту же операцию.
type Gateway struct {
	mu          sync.Mutex
	autoConfirm bool
	returnURL   string
	byKey       map[string]string
	status      map[string]gateway.Status
	chargeErrs  []error
	payoutErrs  []error
	charges     int
	payouts     int
}

// New создаёт шлюз. При autoConfirm проверка списания сразу отвечает
// confirmed: так в development работает ручное подтверждение оплаты.
func New(returnURL string, autoConfirm bool) *Gateway {
	return &Gateway{
		autoConfirm: autoConfirm,
		returnURL:   returnURL,
		byKey:       make(map[string]string),
		status:      make(map[string]gateway.Status),
	}
}

// FailNextCharge следующий Charge вернёт err.
func (g *Gateway) FailNextCharge(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeErrs = append(g.chargeErrs, err)
}

// FailNextPayout ошибки выдаются по очереди, по одной на вызов Payout.
func (g *Gateway) FailNextPayout(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payoutErrs = append(g.payoutErrs, errs...)
}

// SetStatus имитирует изменение статуса операции на стороне шлюза.
func (g *Gateway) SetStatus(reference string, s gateway.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[reference] = s
}

func (g *Gateway) Calls() (charges, payouts int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges, g.payouts
}

func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Result{}, gateway.RetryableError("charge", "контекст отменён", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.charges++
	if len(g.chargeErrs) > 0 {
		err := g.chargeErrs[0]
		g.chargeErrs = g.chargeErrs[1:]
		return gateway.Result{}, err
	}
	ref := g.reference("ch_", req.IdempotencyKey)
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.returnURL
	}
	return gateway.Result{Reference: ref, Status: g.status[ref], RedirectURL: returnURL + "?payment=" + ref}, nil
}

func (g *Gateway) Payout(ctx context.Context, req gateway.PayoutRequest) (gateway.Result, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Result{}, gateway.RetryableError("payout", "контекст отменён", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.payouts++
	if len(g.payoutErrs) > 0 {
		err := g.payoutErrs[0]
		g.payoutErrs = g.payoutErrs[1:]
		return gateway.Result{}, err
	}
	ref := g.reference("po_", req.IdempotencyKey)
	return gateway.Result{Reference: ref, Status: g.status[ref]}, nil
}

func (g *Gateway) Verify(ctx context.Context, reference string) (gateway.Result, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Result{}, gateway.RetryableError("verify", "контекст отменён", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.status[reference]
	if !ok {
		return gateway.Result{}, gateway.TerminalError("verify", "операция не найдена", nil)
	}
	if g.autoConfirm && s == gateway.StatusPending && strings.HasPrefix(reference, "ch_") {
		s = gateway.StatusConfirmed
		g.status[reference] = s
	}
	return gateway.Result{Reference: reference, Status: s}, nil
}

func (g *Gateway) reference(prefix, key string) string {
	if key == "" {
		key = uuid.NewString()
	}
	if ref, ok := g.byKey[key]; ok {
		return ref
	}
	ref := prefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
	g.byKey[key] = ref
	g.status[ref] = gateway.StatusPending
	return ref
}
