package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/infrastructure/persistence/memory"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func TestChecker_CleanLedger(t *testing.T) {
	db := memory.New()
	l := New(fixedNow)
	o := testOrder("100", "0.10")
	_, _, err := appendReq(t, db, l, Hold(o))
	require.NoError(t, err)
	_, _, err = appendReq(t, db, l, Release(o))
	require.NoError(t, err)

	pub := &recordingPublisher{}
	report, err := NewChecker(db, pub, valueobject.CurrencyUSD, 2, fixedNow).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, 4, report.Checked)
	assert.Empty(t, pub.events)
}

func TestChecker_DriftFreezesWallet(t *testing.T) {
	db := memory.New()
	l := New(fixedNow)
	o := testOrder("100", "0.10")
	_, _, err := appendReq(t, db, l, Hold(o))
	require.NoError(t, err)

	tampered := *entity.NewWallet(o.SellerID, valueobject.CurrencyUSD, t0)
	tampered.Available = dec("500")
	db.SetWallet(tampered)

	pub := &recordingPublisher{}
	checker := NewChecker(db, pub, valueobject.CurrencyUSD, 10, fixedNow)
	report, err := checker.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, o.SellerID, report.Drifts[0].AccountID)
	assert.True(t, wallet(t, db, o.SellerID).Frozen)
	require.Len(t, pub.events, 1)
	assert.Equal(t, event.LedgerDriftDetected, pub.events[0].Type)

	// повторный прогон не публикует событие второй раз
	_, err = checker.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)

	err = checker.Unfreeze(context.Background(), o.SellerID)
	assert.True(t, apperror.IsConflict(err))

	repaired := *wallet(t, db, o.SellerID)
	repaired.Available = dec("0")
	db.SetWallet(repaired)
	require.NoError(t, checker.Unfreeze(context.Background(), o.SellerID))
	assert.False(t, wallet(t, db, o.SellerID).Frozen)
}
