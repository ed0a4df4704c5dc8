package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Счета и кредитовые ноты (создаются внешним модулем биллинга)

type Bill struct {
	ID              string
	Number          string
	Date            time.Time
	Customer        string
	ThirdPartyPayer string // "" - счет выставлен клиенту
	NetInclTaxes    decimal.Decimal
	Sent            *time.Time
}

type CreditNote struct {
	ID                string
	Number            string
	Date              time.Time
	Customer          string
	ThirdPartyPayer   string
	InclTaxesCustomer decimal.Decimal
	InclTaxesTpp      decimal.Decimal
}

// Платежи

type PaymentNature string

const (
	PaymentNaturePayment PaymentNature = "payment"
	PaymentNatureRefund  PaymentNature = "refund"
)

func (n PaymentNature) Valid() bool {
	return n == PaymentNaturePayment || n == PaymentNatureRefund
}

type PaymentType string

const (
	PaymentTypeWithdrawal   PaymentType = "withdrawal"
	PaymentTypeBankTransfer PaymentType = "bank_transfer"
	PaymentTypeCheck        PaymentType = "check"
	PaymentTypeCesu         PaymentType = "cesu"
	PaymentTypeCash         PaymentType = "cash"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeWithdrawal, PaymentTypeBankTransfer, PaymentTypeCheck, PaymentTypeCesu, PaymentTypeCash:
		return true
	}
	return false
}

// IsDirectDebit - платеж попадает в SEPA-пакет прямого дебета
func (t PaymentType) IsDirectDebit() bool {
	return t == PaymentTypeWithdrawal
}

type Payment struct {
	ID              string
	Number          string
	Date            time.Time
	Customer        string
	ThirdPartyPayer string
	NetInclTaxes    decimal.Decimal
	Nature          PaymentNature
	Type            PaymentType
	Rum             string
	Company         string
}

// IsDirectDebit - списание с клиента по мандату: только платеж, не возврат
func (p Payment) IsDirectDebit() bool {
	return p.Type.IsDirectDebit() && p.Nature == PaymentNaturePayment
}

// Счетчик номеров платежей: одна строка на (nature, YYMM)

type PaymentNumber struct {
	Prefix string
	Seq    int
}

// Клиент и SEPA-мандаты

type Mandate struct {
	Rum      string    `json:"rum"`
	SignedAt time.Time `json:"signedAt"`
}

type CustomerPayment struct {
	BankAccountOwner string
	Iban             string
	Bic              string
	// порядок важен: действующий мандат - последний
	Mandates []Mandate
}

type Customer struct {
	ID           string
	IdentityName string
	Payment      CustomerPayment
}

// ActiveMandate возвращает действующий мандат (последний подписанный)
func (c Customer) ActiveMandate() (Mandate, error) {
	if len(c.Payment.Mandates) == 0 {
		return Mandate{}, ErrMissingMandate
	}
	return c.Payment.Mandates[len(c.Payment.Mandates)-1], nil
}

type ThirdPartyPayer struct {
	ID   string
	Name string
}

// Company - кредитор прямого дебета
type Company struct {
	ID   string
	Name string
	Iban string
	Bic  string
	Ics  string
}

// Баланс

type BalanceFilter struct {
	Customer string
	DateMax  *time.Time
}

type BalanceKey struct {
	Customer        string
	ThirdPartyPayer string
}

type BalanceEntry struct {
	Key            BalanceKey
	Billed         decimal.Decimal
	RefundCustomer decimal.Decimal
	RefundTpp      decimal.Decimal
	Payments       []Payment
	Balance        decimal.Decimal
}

// Paid - сумма платежей записи
func (e BalanceEntry) Paid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range e.Payments {
		paid = paid.Add(p.NetInclTaxes)
	}
	return paid
}

// Агрегаты, возвращаемые хранилищем

type BillGroup struct {
	Key    BalanceKey
	Billed decimal.Decimal
}

type CreditNoteGroup struct {
	Key               BalanceKey
	InclTaxesCustomer decimal.Decimal
	InclTaxesTpp      decimal.Decimal
}

// String - номер платежа: префикс + seq с нулями до 3 знаков, например REG-1909001
func (n PaymentNumber) String() string {
	return fmt.Sprintf("%s%03d", n.Prefix, n.Seq)
}
