package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

var errPanic = errors.New("notify: подписчик завершился паникой")

// Pusher отправка во входящие пользователя (ws.Hub).
type Pusher interface {
	BroadcastToUser(ctx context.Context, userID uuid.UUID, event string, data any) error
}

// Inbox кладёт событие во входящие каждого участника и пушит его по WebSocket.
type Inbox struct {
	hub Pusher
}

func NewInbox(hub Pusher) *Inbox {
	return &Inbox{hub: hub}
}

func (s *Inbox) Name() string { return "inbox" }

func (s *Inbox) Handle(ctx context.Context, ev event.Event) error {
	var errs []error
	for _, userID := range ev.Recipients() {
		if err := s.hub.BroadcastToUser(ctx, userID, string(ev.Type), ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmailSender порт почтового сервиса.
type EmailSender interface {
	SendEmail(ctx context.Context, userID uuid.UUID, subject, body string) error
}

// SMSSender порт SMS-шлюза.
type SMSSender interface {
	SendSMS(ctx context.Context, userID uuid.UUID, text string) error
}

// Email письма о событиях, которые двигают деньги.
type Email struct {
	sender EmailSender
}

func NewEmail(sender EmailSender) *Email {
	return &Email{sender: sender}
}

func (s *Email) Name() string { return "email" }

func (s *Email) Handle(ctx context.Context, ev event.Event) error {
	subject, ok := emailSubjects[ev.Type]
	if !ok {
		return nil
	}
	body := describe(ev)
	var errs []error
	for _, userID := range ev.Recipients() {
		if err := s.sender.SendEmail(ctx, userID, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var emailSubjects = map[event.Type]string{
	event.OrderPaid:           "Заказ оплачен",
	event.OrderDelivered:      "Работа сдана",
	event.OrderCompleted:      "Заказ завершён",
	event.OrderRefunded:       "Возврат по заказу",
	event.OrderDisputed:       "Открыт спор",
	event.DisputeResolved:     "Спор решён",
	event.WithdrawalSettled:   "Вывод средств выполнен",
	event.WithdrawalFailed:    "Вывод средств не выполнен",
	event.WithdrawalCancelled: "Вывод средств отменён",
}

// SMS короткие сообщения только о выводе средств.
type SMS struct {
	sender SMSSender
}

func NewSMS(sender SMSSender) *SMS {
	return &SMS{sender: sender}
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Handle(ctx context.Context, ev event.Event) error {
	switch ev.Type {
	case event.WithdrawalSettled, event.WithdrawalFailed:
	default:
		return nil
	}
	return s.sender.SendSMS(ctx, ev.UserID, describe(ev))
}

func describe(ev event.Event) string {
	text := fmt.Sprintf("%s: %s %s", ev.Type, ev.Amount.StringFixed(2), ev.Currency)
	if ev.Reason != "" {
		text += " (" + ev.Reason + ")"
	}
	return text
}

// BonusGranter начисление реферального бонуса (service.WalletService).
type BonusGranter interface {
	GrantReferralBonus(ctx context.Context, referrerID, orderID uuid.UUID, amount valueobject.Money) (bool, error)
}

// Referral начисляет пригласившему продавца долю цены завершённого заказа.
// Бонус не больше комиссии, которую заработала платформа.
type Referral struct {
	referrals repository.ReferralDirectory
	wallets   BonusGranter
	rate      decimal.Decimal
}

func NewReferral(referrals repository.ReferralDirectory, wallets BonusGranter, rate decimal.Decimal) *Referral {
	return &Referral{referrals: referrals, wallets: wallets, rate: rate}
}

func (s *Referral) Name() string { return "referral" }

func (s *Referral) Handle(ctx context.Context, ev event.Event) error {
	if ev.Type != event.OrderCompleted || !s.rate.IsPositive() || ev.SellerID == uuid.Nil {
		return nil
	}
	referrerID, ok, err := s.referrals.ReferrerOf(ctx, ev.SellerID)
	if err != nil {
		return err
	}
	if !ok || referrerID == ev.SellerID {
		return nil
	}

	bonus := valueobject.RoundStorage(ev.Amount.Mul(s.rate))
	if bonus.GreaterThan(ev.Fee) {
		bonus = ev.Fee
	}
	if !bonus.IsPositive() {
		return nil
	}
	granted, err := s.wallets.GrantReferralBonus(ctx, referrerID, ev.OrderID, valueobject.Money{Amount: bonus, Currency: ev.Currency})
	if err != nil {
		return err
	}
	if !granted {
		logger.Log.WithFields(logrus.Fields{"order_id": ev.OrderID, "referrer_id": referrerID}).Debug("notify: бонус по заказу уже начислен")
	}
	return nil
}

// LogEmailSender пишет письма в лог вместо отправки.
type LogEmailSender struct{}

func (LogEmailSender) SendEmail(ctx context.Context, userID uuid.UUID, subject, body string) error {
	logger.Log.WithFields(logrus.Fields{"user_id": userID, "subject": subject}).Info(body)
	return nil
}

// LogSMSSender пишет SMS в лог вместо отправки.
type LogSMSSender struct{}

func (LogSMSSender) SendSMS(ctx context.Context, userID uuid.UUID, text string) error {
	logger.Log.WithField("user_id", userID).Info("sms: " + text)
	return nil
}
