package payment

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"

	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/sequence"
)

const idPrefix = "pay_"

// NewID - k-сортируемый идентификатор платежа, не длиннее 35 символов (EndToEndId в SEPA)
func NewID() string {
	return idPrefix + ulid.Make().String()
}

type Formatter interface {
	Format(ctx context.Context, raw model.Payment) (model.Payment, error)
}

type formatter struct {
	issuer sequence.Issuer
}

func NewFormatter(issuer sequence.Issuer) Formatter {
	return &formatter{issuer: issuer}
}

// Format присваивает платежу идентификатор и номер. В хранилище не пишет
func (f *formatter) Format(ctx context.Context, raw model.Payment) (model.Payment, error) {
	if err := Validate(raw); err != nil {
		return model.Payment{}, err
	}

	number, err := f.issuer.NextNumber(ctx, raw.Nature, raw.Date)
	if err != nil {
		return model.Payment{}, err
	}

	formatted := raw
	formatted.ID = NewID()
	formatted.Number = number.String()
	return formatted, nil
}

// Validate - проверки до выдачи номера, чтобы не расходовать последовательность
func Validate(raw model.Payment) error {
	if !raw.Nature.Valid() {
		return errors.Wrapf(model.ErrInvalidNature, "nature %q", raw.Nature)
	}
	if !raw.Type.Valid() {
		return errors.Wrapf(model.ErrInvalidType, "type %q", raw.Type)
	}
	if raw.Customer == "" || raw.Date.IsZero() {
		return model.ErrInsufficientData
	}
	if !raw.NetInclTaxes.IsPositive() {
		return errors.Wrap(model.ErrInsufficientData, "amount must be positive")
	}
	// в хранилище и в SEPA-файле суммы в центах
	if !raw.NetInclTaxes.Equal(raw.NetInclTaxes.Round(2)) {
		return errors.Mark(errors.Wrapf(model.ErrAmountPrecision, "amount %s", raw.NetInclTaxes), model.ErrInsufficientData)
	}
	if raw.Nature == model.PaymentNatureRefund && raw.Type.IsDirectDebit() {
		return errors.Wrapf(model.ErrRefundDirectDebit, "type %q", raw.Type)
	}
	return nil
}

// Типы последовательности SEPA
type SequenceType string

const (
	First     SequenceType = "FRST"
	Recurring SequenceType = "RCUR"
)

type WithdrawalCounter interface {
	PaymentCountWithdrawals(ctx context.Context, customer string) (int, error)
}

type Classifier struct {
	counter WithdrawalCounter
	locker  *Locker
}

func NewClassifier(counter WithdrawalCounter, locker *Locker) *Classifier {
	return &Classifier{counter: counter, locker: locker}
}

// Classify - First, если у клиента еще нет сохраненных списаний.
// Чтение не атомарно с последующей записью: для пакета используйте Begin
func (c *Classifier) Classify(ctx context.Context, customer string, payment model.Payment) (SequenceType, error) {
	if !payment.IsDirectDebit() {
		return "", errors.Wrapf(model.ErrNotDirectDebit, "payment %s", payment.Number)
	}
	count, err := c.counter.PaymentCountWithdrawals(ctx, customer)
	if err != nil {
		return "", errors.Wrapf(err, "count withdrawals of %s", customer)
	}
	if count == 0 {
		return First, nil
	}
	return Recurring, nil
}

// Session держит блокировку клиента, пока платежи пакета пишутся в хранилище.
// Классификация окончательна в момент успешной записи
type Session struct {
	customer string
	count    int
	unlock   func()
}

func (c *Classifier) Begin(ctx context.Context, customer string) (*Session, error) {
	unlock := c.locker.Lock(customer)
	count, err := c.counter.PaymentCountWithdrawals(ctx, customer)
	if err != nil {
		unlock()
		return nil, errors.Wrapf(err, "count withdrawals of %s", customer)
	}
	return &Session{customer: customer, count: count, unlock: unlock}, nil
}

// Commit вызывается после успешной записи платежа
func (s *Session) Commit(payment model.Payment) (SequenceType, bool) {
	if !payment.IsDirectDebit() {
		return "", false
	}
	seqType := Recurring
	if s.count == 0 {
		seqType = First
	}
	s.count++
	return seqType, true
}

func (s *Session) Close() {
	s.unlock()
}
