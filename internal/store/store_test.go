package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/store/config"
)

// testStores - хранилище в памяти и, если задан HOMECARE_TEST_DSN, postgres
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	stores := map[string]Store{"memory": NewMemStore()}
	if dsn := os.Getenv("HOMECARE_TEST_DSN"); dsn != "" {
		pg, err := NewStore(config.Config{DBDsn: dsn})
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

// uniq - уникальный идентификатор, чтобы прогоны на общей БД не пересекались
func uniq(prefix string) string {
	return prefix + ulid.Make().String()[16:]
}

func TestStorePaymentNumber(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			prefix := uniq("T-")

			seq, err := store.PaymentNumberNext(ctx, prefix)
			require.NoError(t, err)
			require.Equal(t, 1, seq)

			seq, err = store.PaymentNumberNext(ctx, prefix)
			require.NoError(t, err)
			require.Equal(t, 2, seq)

			// конкурентные вызовы: без повторов и пропусков
			const callers = 20
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[int]bool)
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					seq, err := store.PaymentNumberNext(ctx, prefix)
					assert.NoError(t, err)
					mu.Lock()
					seen[seq] = true
					mu.Unlock()
				}()
			}
			wg.Wait()

			require.Len(t, seen, callers)
			for i := 3; i < 3+callers; i++ {
				require.True(t, seen[i], "missing seq %d", i)
			}
		})
	}
}

func TestStorePayment(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			customer := uniq("cus")

			payment := model.Payment{
				ID:           uniq("pay"),
				Number:       uniq("REG-"),
				Date:         time.Date(2019, 9, 15, 0, 0, 0, 0, time.UTC),
				Customer:     customer,
				NetInclTaxes: decimal.RequireFromString("30.50"),
				Nature:       model.PaymentNaturePayment,
				Type:         model.PaymentTypeWithdrawal,
				Rum:          "R-1",
			}
			require.NoError(t, store.PaymentInsert(ctx, payment))

			// номер уникален
			duplicate := payment
			duplicate.ID = uniq("pay")
			err := store.PaymentInsert(ctx, duplicate)
			require.True(t, errors.Is(err, model.ErrAlreadyExists))

			transfer := payment
			transfer.ID = uniq("pay")
			transfer.Number = uniq("REG-")
			transfer.Type = model.PaymentTypeBankTransfer
			require.NoError(t, store.PaymentInsert(ctx, transfer))

			count, err := store.PaymentCountWithdrawals(ctx, customer)
			require.NoError(t, err)
			require.Equal(t, 1, count)

			payments, err := store.PaymentGetList(ctx, model.BalanceFilter{Customer: customer})
			require.NoError(t, err)
			require.Len(t, payments, 2)
			require.True(t, payments[0].NetInclTaxes.Equal(payment.NetInclTaxes))
			require.Equal(t, payment.Rum, payments[0].Rum)
			require.Empty(t, payments[0].ThirdPartyPayer)

			before := time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)
			payments, err = store.PaymentGetList(ctx, model.BalanceFilter{Customer: customer, DateMax: &before})
			require.NoError(t, err)
			require.Empty(t, payments)
		})
	}
}

func TestStoreAggregates(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			customer := uniq("cus")
			tpp := uniq("tpp")
			date := time.Date(2019, 9, 10, 0, 0, 0, 0, time.UTC)

			require.NoError(t, store.ThirdPartyPayerPut(ctx, model.ThirdPartyPayer{ID: tpp, Name: "Conseil départemental"}))
			for i, amount := range []string{"100", "20.5"} {
				require.NoError(t, store.BillInsert(ctx, model.Bill{
					ID: uniq("bill"), Number: fmt.Sprintf("FACT-%d", i), Date: date,
					Customer: customer, NetInclTaxes: decimal.RequireFromString(amount),
				}))
			}
			require.NoError(t, store.BillInsert(ctx, model.Bill{
				ID: uniq("bill"), Date: date, Customer: customer, ThirdPartyPayer: tpp,
				NetInclTaxes: decimal.RequireFromString("40"),
			}))
			require.NoError(t, store.CreditNoteInsert(ctx, model.CreditNote{
				ID: uniq("cn"), Date: date, Customer: customer, ThirdPartyPayer: tpp,
				InclTaxesCustomer: decimal.RequireFromString("5"), InclTaxesTpp: decimal.RequireFromString("10"),
			}))

			bills, err := store.BillAggregate(ctx, model.BalanceFilter{Customer: customer})
			require.NoError(t, err)
			require.Len(t, bills, 2)
			for _, group := range bills {
				switch group.Key.ThirdPartyPayer {
				case "":
					require.Equal(t, "120.5", group.Billed.String())
				case tpp:
					require.Equal(t, "40", group.Billed.String())
				default:
					t.Fatalf("unexpected group %v", group.Key)
				}
			}

			creditNotes, err := store.CreditNoteAggregate(ctx, model.BalanceFilter{Customer: customer})
			require.NoError(t, err)
			require.Len(t, creditNotes, 1)
			require.Equal(t, tpp, creditNotes[0].Key.ThirdPartyPayer)
			require.Equal(t, "5", creditNotes[0].InclTaxesCustomer.String())
			require.Equal(t, "10", creditNotes[0].InclTaxesTpp.String())
		})
	}
}

func TestStoreCustomerCompany(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			customer := model.Customer{
				ID:           uniq("cus"),
				IdentityName: "Mme Dupont",
				Payment: model.CustomerPayment{
					BankAccountOwner: "Jeanne Dupont",
					Iban:             "FR7630006000011234567890189",
					Bic:              "AGRIFRPP",
					Mandates: []model.Mandate{
						{Rum: "R-OLD", SignedAt: time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC)},
						{Rum: "R-NEW", SignedAt: time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC)},
					},
				},
			}
			require.NoError(t, store.CustomerPut(ctx, customer))

			got, err := store.CustomerGet(ctx, customer.ID)
			require.NoError(t, err)
			require.Equal(t, customer.Payment.Iban, got.Payment.Iban)
			require.Len(t, got.Payment.Mandates, 2)
			require.Equal(t, "R-NEW", got.Payment.Mandates[1].Rum)
			require.True(t, got.Payment.Mandates[1].SignedAt.Equal(customer.Payment.Mandates[1].SignedAt))

			_, err = store.CustomerGet(ctx, uniq("missing"))
			require.True(t, errors.Is(err, model.ErrNotFound))

			company := model.Company{ID: uniq("co"), Name: "Aide Domicile SAS", Iban: "FR7612345", Bic: "BNPAFRPP", Ics: "FR12ZZZ123456"}
			require.NoError(t, store.CompanyPut(ctx, company))
			gotCompany, err := store.CompanyGet(ctx, company.ID)
			require.NoError(t, err)
			require.Equal(t, company, gotCompany)
		})
	}
}
