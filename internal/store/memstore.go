package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/iurnickita/homecare/internal/model"
)

// memStore - хранилище в памяти. Используется без DSN и в тестах
type memStore struct {
	mu               sync.RWMutex
	paymentNumbers   map[string]int
	payments         []model.Payment
	bills            []model.Bill
	creditNotes      []model.CreditNote
	customers        map[string]model.Customer
	thirdPartyPayers map[string]model.ThirdPartyPayer
	companies        map[string]model.Company
}

func NewMemStore() Store {
	return &memStore{
		paymentNumbers:   make(map[string]int),
		customers:        make(map[string]model.Customer),
		thirdPartyPayers: make(map[string]model.ThirdPartyPayer),
		companies:        make(map[string]model.Company),
	}
}

func (store *memStore) Close() error {
	return nil
}

func (store *memStore) PaymentNumberNext(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	store.paymentNumbers[prefix]++
	return store.paymentNumbers[prefix], nil
}

func (store *memStore) PaymentInsert(ctx context.Context, payment model.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, p := range store.payments {
		if p.ID == payment.ID || p.Number == payment.Number {
			return errors.Wrapf(model.ErrAlreadyExists, "payment %s", payment.Number)
		}
	}
	store.payments = append(store.payments, payment)
	return nil
}

func (store *memStore) PaymentCountWithdrawals(ctx context.Context, customer string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()

	return lo.CountBy(store.payments, func(p model.Payment) bool {
		return p.Customer == customer && p.IsDirectDebit()
	}), nil
}

func (store *memStore) PaymentGetList(ctx context.Context, filter model.BalanceFilter) ([]model.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()

	payments := lo.Filter(store.payments, func(p model.Payment, _ int) bool {
		return match(filter, p.Customer, p.Date)
	})
	slices.SortStableFunc(payments, func(a, b model.Payment) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Number, b.Number)
	})
	return payments, nil
}

func (store *memStore) BillInsert(ctx context.Context, bill model.Bill) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	if lo.ContainsBy(store.bills, func(b model.Bill) bool { return b.ID == bill.ID }) {
		return errors.Wrapf(model.ErrAlreadyExists, "bill %s", bill.ID)
	}
	store.bills = append(store.bills, bill)
	return nil
}

func (store *memStore) BillAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.BillGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()

	var groups []model.BillGroup
	index := make(map[model.BalanceKey]int)
	for _, bill := range store.bills {
		if !match(filter, bill.Customer, bill.Date) {
			continue
		}
		key := model.BalanceKey{Customer: bill.Customer, ThirdPartyPayer: bill.ThirdPartyPayer}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, model.BillGroup{Key: key})
		}
		groups[i].Billed = groups[i].Billed.Add(bill.NetInclTaxes)
	}
	return groups, nil
}

func (store *memStore) CreditNoteInsert(ctx context.Context, creditNote model.CreditNote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	if lo.ContainsBy(store.creditNotes, func(cn model.CreditNote) bool { return cn.ID == creditNote.ID }) {
		return errors.Wrapf(model.ErrAlreadyExists, "credit note %s", creditNote.ID)
	}
	store.creditNotes = append(store.creditNotes, creditNote)
	return nil
}

func (store *memStore) CreditNoteAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.CreditNoteGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()

	var groups []model.CreditNoteGroup
	index := make(map[model.BalanceKey]int)
	for _, cn := range store.creditNotes {
		if !match(filter, cn.Customer, cn.Date) {
			continue
		}
		key := model.BalanceKey{Customer: cn.Customer, ThirdPartyPayer: cn.ThirdPartyPayer}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, model.CreditNoteGroup{Key: key})
		}
		groups[i].InclTaxesCustomer = groups[i].InclTaxesCustomer.Add(cn.InclTaxesCustomer)
		groups[i].InclTaxesTpp = groups[i].InclTaxesTpp.Add(cn.InclTaxesTpp)
	}
	return groups, nil
}

func (store *memStore) CustomerPut(ctx context.Context, customer model.Customer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	customer.Payment.Mandates = slices.Clone(customer.Payment.Mandates)
	store.customers[customer.ID] = customer
	return nil
}

func (store *memStore) CustomerGet(ctx context.Context, id string) (model.Customer, error) {
	if err := ctx.Err(); err != nil {
		return model.Customer{}, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()

	customer, ok := store.customers[id]
	if !ok {
		return model.Customer{}, errors.Wrapf(model.ErrNotFound, "customer %s", id)
	}
	customer.Payment.Mandates = slices.Clone(customer.Payment.Mandates)
	return customer, nil
}

func (store *memStore) ThirdPartyPayerPut(ctx context.Context, tpp model.ThirdPartyPayer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	store.thirdPartyPayers[tpp.ID] = tpp
	return nil
}

func (store *memStore) CompanyPut(ctx context.Context, company model.Company) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	store.companies[company.ID] = company
	return nil
}

func (store *memStore) CompanyGet(ctx context.Context, id string) (model.Company, error) {
	if err := ctx.Err(); err != nil {
		return model.Company{}, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()

	company, ok := store.companies[id]
	if !ok {
		return model.Company{}, errors.Wrapf(model.ErrNotFound, "company %s", id)
	}
	return company, nil
}

// match - фильтр по клиенту и дате (включительно), одинаковый для всех источников
func match(filter model.BalanceFilter, customer string, date time.Time) bool {
	if filter.Customer != "" && filter.Customer != customer {
		return false
	}
	if filter.DateMax != nil && date.After(*filter.DateMax) {
		return false
	}
	return true
}
