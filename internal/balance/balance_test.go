package balance

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/store"
)

var date = time.Date(2019, 9, 10, 0, 0, 0, 0, time.UTC)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeCustomerScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	require.NoError(t, st.BillInsert(ctx, model.Bill{ID: "b1", Date: date, Customer: "C", NetInclTaxes: amount("100")}))
	require.NoError(t, st.CreditNoteInsert(ctx, model.CreditNote{ID: "cn1", Date: date, Customer: "C", InclTaxesCustomer: amount("20")}))
	require.NoError(t, st.PaymentInsert(ctx, model.Payment{
		ID: "p1", Number: "REG-1909001", Date: date, Customer: "C", NetInclTaxes: amount("30"),
		Nature: model.PaymentNaturePayment, Type: model.PaymentTypeWithdrawal,
	}))

	entries, err := NewBalance(st, zap.NewNop()).Compute(ctx, model.BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	require.Equal(t, model.BalanceKey{Customer: "C"}, entry.Key)
	require.True(t, entry.Billed.Equal(amount("100")))
	require.True(t, entry.RefundCustomer.Equal(amount("20")))
	require.True(t, entry.RefundTpp.IsZero())
	require.Len(t, entry.Payments, 1)
	require.True(t, entry.Payments[0].NetInclTaxes.Equal(amount("30")))
	require.True(t, entry.Balance.Equal(amount("50")))
}

func TestMergeThirdPartyPayerSplit(t *testing.T) {
	bills := []model.BillGroup{
		{Key: model.BalanceKey{Customer: "C"}, Billed: amount("50")},
		{Key: model.BalanceKey{Customer: "C", ThirdPartyPayer: "T"}, Billed: amount("200")},
	}
	// одна кредитовая нота на плательщика: часть клиента уходит на ключ без плательщика
	creditNotes := []model.CreditNoteGroup{
		{Key: model.BalanceKey{Customer: "C", ThirdPartyPayer: "T"}, InclTaxesCustomer: amount("5"), InclTaxesTpp: amount("40")},
	}
	payments := []model.Payment{
		{Customer: "C", ThirdPartyPayer: "T", NetInclTaxes: amount("60")},
	}

	entries := Merge(bills, creditNotes, payments)
	require.Len(t, entries, 2)

	require.Equal(t, model.BalanceKey{Customer: "C"}, entries[0].Key)
	require.True(t, entries[0].RefundCustomer.Equal(amount("5")))
	require.True(t, entries[0].RefundTpp.IsZero())
	require.True(t, entries[0].Balance.Equal(amount("45")))

	require.Equal(t, model.BalanceKey{Customer: "C", ThirdPartyPayer: "T"}, entries[1].Key)
	require.True(t, entries[1].RefundCustomer.IsZero())
	require.True(t, entries[1].RefundTpp.Equal(amount("40")))
	require.True(t, entries[1].Balance.Equal(amount("100")))
}

func TestMergeOuterJoinAndZeroFilter(t *testing.T) {
	bills := []model.BillGroup{
		{Key: model.BalanceKey{Customer: "A"}, Billed: amount("80")},
	}
	payments := []model.Payment{
		// полностью оплачен - исчезает из отчета
		{Customer: "A", NetInclTaxes: amount("80")},
		// платеж без счета - отрицательный баланс
		{Customer: "B", NetInclTaxes: amount("15.5")},
	}
	creditNotes := []model.CreditNoteGroup{
		// кредитовая нота без счета
		{Key: model.BalanceKey{Customer: "D"}, InclTaxesCustomer: amount("12")},
	}

	entries := Merge(bills, creditNotes, payments)
	require.Len(t, entries, 2)
	require.Equal(t, "B", entries[0].Key.Customer)
	require.True(t, entries[0].Billed.IsZero())
	require.True(t, entries[0].Balance.Equal(amount("-15.5")))
	require.Equal(t, "D", entries[1].Key.Customer)
	require.Empty(t, entries[1].Payments)
	require.True(t, entries[1].Balance.Equal(amount("-12")))
}

func TestComputeFilters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	require.NoError(t, st.BillInsert(ctx, model.Bill{ID: "b1", Date: date, Customer: "A", NetInclTaxes: amount("10")}))
	require.NoError(t, st.BillInsert(ctx, model.Bill{ID: "b2", Date: date.AddDate(0, 1, 0), Customer: "A", NetInclTaxes: amount("20")}))
	require.NoError(t, st.BillInsert(ctx, model.Bill{ID: "b3", Date: date, Customer: "B", NetInclTaxes: amount("30")}))
	require.NoError(t, st.CreditNoteInsert(ctx, model.CreditNote{ID: "cn1", Date: date.AddDate(0, 1, 0), Customer: "A", InclTaxesCustomer: amount("4")}))

	balance := NewBalance(st, zap.NewNop())

	entries, err := balance.Compute(ctx, model.BalanceFilter{Customer: "A"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Balance.Equal(amount("26")))

	// дата применяется ко всем источникам
	cutoff := date
	entries, err = balance.Compute(ctx, model.BalanceFilter{Customer: "A", DateMax: &cutoff})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Billed.Equal(amount("10")))
	require.True(t, entries[0].RefundCustomer.IsZero())

	entries, err = balance.Compute(ctx, model.BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

type failingSource struct {
	store.Store
}

func (failingSource) CreditNoteAggregate(context.Context, model.BalanceFilter) ([]model.CreditNoteGroup, error) {
	return nil, errors.New("connection reset")
}

func TestComputeSourceError(t *testing.T) {
	_, err := NewBalance(failingSource{store.NewMemStore()}, zap.NewNop()).Compute(context.Background(), model.BalanceFilter{})
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrBalanceAggregation))
}

func TestMergeInvariantRandom(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	customers := []string{"A", "B", "C"}
	payers := []string{"", "T1", "T2"}
	cents := func() decimal.Decimal { return decimal.New(rnd.Int64N(20000), -2) }
	key := func() model.BalanceKey {
		return model.BalanceKey{Customer: customers[rnd.IntN(len(customers))], ThirdPartyPayer: payers[rnd.IntN(len(payers))]}
	}

	for round := range 200 {
		var (
			bills       []model.BillGroup
			creditNotes []model.CreditNoteGroup
			payments    []model.Payment
		)
		for range rnd.IntN(6) {
			bills = append(bills, model.BillGroup{Key: key(), Billed: cents()})
		}
		for range rnd.IntN(4) {
			creditNotes = append(creditNotes, model.CreditNoteGroup{Key: key(), InclTaxesCustomer: cents(), InclTaxesTpp: cents()})
		}
		for range rnd.IntN(6) {
			k := key()
			payments = append(payments, model.Payment{Customer: k.Customer, ThirdPartyPayer: k.ThirdPartyPayer, NetInclTaxes: cents()})
		}
		// иногда - ровно погашенный долг
		if rnd.IntN(3) == 0 {
			k := key()
			v := cents()
			bills = append(bills, model.BillGroup{Key: model.BalanceKey{Customer: "Z" + k.Customer}, Billed: v})
			payments = append(payments, model.Payment{Customer: "Z" + k.Customer, NetInclTaxes: v})
		}

		entries := Merge(bills, creditNotes, payments)
		seen := make(map[model.BalanceKey]bool)
		for _, e := range entries {
			msg := fmt.Sprintf("round %d key %v", round, e.Key)
			require.False(t, e.Balance.IsZero(), msg)
			require.True(t, e.Balance.Equal(e.Billed.Sub(e.RefundCustomer).Sub(e.RefundTpp).Sub(e.Paid())), msg)
			require.False(t, seen[e.Key], msg)
			seen[e.Key] = true
			if e.Key.ThirdPartyPayer == "" {
				require.True(t, e.RefundTpp.IsZero(), msg)
			} else {
				require.True(t, e.RefundCustomer.IsZero(), msg)
			}
		}
	}
}
