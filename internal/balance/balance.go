package balance

import (
	"cmp"
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/model"
)

// Source - три независимых источника баланса
type Source interface {
	BillAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.BillGroup, error)
	CreditNoteAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.CreditNoteGroup, error)
	PaymentGetList(ctx context.Context, filter model.BalanceFilter) ([]model.Payment, error)
}

type Balance interface {
	Compute(ctx context.Context, filter model.BalanceFilter) ([]model.BalanceEntry, error)
}

type balance struct {
	source Source
	zaplog *zap.Logger
}

func NewBalance(source Source, zaplog *zap.Logger) Balance {
	return &balance{source: source, zaplog: zaplog}
}

func (balance *balance) Compute(ctx context.Context, filter model.BalanceFilter) ([]model.BalanceEntry, error) {
	var (
		bills       []model.BillGroup
		creditNotes []model.CreditNoteGroup
		payments    []model.Payment
	)

	// запросы независимы - выполняем параллельно
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		bills, err = balance.source.BillAggregate(ctx, filter)
		return errors.Wrap(err, "bills")
	})
	p.Go(func(ctx context.Context) error {
		var err error
		creditNotes, err = balance.source.CreditNoteAggregate(ctx, filter)
		return errors.Wrap(err, "credit notes")
	})
	p.Go(func(ctx context.Context) error {
		var err error
		payments, err = balance.source.PaymentGetList(ctx, filter)
		return errors.Wrap(err, "payments")
	})
	if err := p.Wait(); err != nil {
		return nil, errors.Mark(err, model.ErrBalanceAggregation)
	}

	entries := Merge(bills, creditNotes, payments)
	balance.zaplog.Debug("balances computed",
		zap.String("customer", filter.Customer),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// Merge объединяет группы по ключу (клиент, плательщик) и отбрасывает нулевые балансы.
// Возвратная сумма клиента по кредитовым нотам достается ключу без плательщика,
// сумма плательщика - ключу с плательщиком.
func Merge(bills []model.BillGroup, creditNotes []model.CreditNoteGroup, payments []model.Payment) []model.BalanceEntry {
	entries := make(map[model.BalanceKey]*model.BalanceEntry)
	entry := func(key model.BalanceKey) *model.BalanceEntry {
		e, ok := entries[key]
		if !ok {
			e = &model.BalanceEntry{Key: key}
			entries[key] = e
		}
		return e
	}

	for _, bill := range bills {
		e := entry(bill.Key)
		e.Billed = e.Billed.Add(bill.Billed)
	}

	for _, cn := range creditNotes {
		if !cn.InclTaxesCustomer.IsZero() {
			e := entry(model.BalanceKey{Customer: cn.Key.Customer})
			e.RefundCustomer = e.RefundCustomer.Add(cn.InclTaxesCustomer)
		}
		if cn.Key.ThirdPartyPayer != "" && !cn.InclTaxesTpp.IsZero() {
			e := entry(cn.Key)
			e.RefundTpp = e.RefundTpp.Add(cn.InclTaxesTpp)
		}
	}

	for _, payment := range payments {
		e := entry(model.BalanceKey{Customer: payment.Customer, ThirdPartyPayer: payment.ThirdPartyPayer})
		e.Payments = append(e.Payments, payment)
	}

	result := make([]model.BalanceEntry, 0, len(entries))
	for _, e := range entries {
		e.Balance = Of(*e)
		if e.Balance.IsZero() {
			continue
		}
		result = append(result, *e)
	}

	slices.SortFunc(result, func(a, b model.BalanceEntry) int {
		if c := cmp.Compare(a.Key.Customer, b.Key.Customer); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.ThirdPartyPayer, b.Key.ThirdPartyPayer)
	})
	return result
}

// Of - billed - refundCustomer - refundTpp - Σpayments
func Of(e model.BalanceEntry) decimal.Decimal {
	return e.Billed.Sub(e.RefundCustomer).Sub(e.RefundTpp).Sub(e.Paid())
}
