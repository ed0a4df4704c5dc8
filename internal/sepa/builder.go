package sepa

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/homecare/internal/model"
)

const messageIDDigits = 31

// Entry - платеж пакета вместе с клиентом-должником
type Entry struct {
	Payment  model.Payment
	Customer model.Customer
}

type Builder struct {
	now       func() time.Time
	messageID func() (string, error)
}

func NewBuilder() *Builder {
	return &Builder{now: time.Now, messageID: NewMessageID}
}

// NewMessageID - 31 случайная цифра
func NewMessageID() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(messageIDDigits), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", errors.Wrap(err, "message id")
	}
	return fmt.Sprintf("%0*s", messageIDDigits, n.String()), nil
}

// Build собирает документ прямого дебета. Блок FRST и блок RCUR создаются только для непустых списков
func (b *Builder) Build(first, recur []Entry, creditor model.Company, collectionDate time.Time) (*Document, error) {
	if len(first)+len(recur) == 0 {
		return nil, errors.Wrap(model.ErrInsufficientData, "no direct debit to build")
	}
	name, err := creditorName(creditor)
	if err != nil {
		return nil, err
	}

	id, err := b.messageID()
	if err != nil {
		return nil, err
	}

	firstTxs, firstTotal, err := transactions(first)
	if err != nil {
		return nil, err
	}
	recurTxs, recurTotal, err := transactions(recur)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Xmlns:          Namespace,
		XmlnsXsi:       xsiNamespace,
		SchemaLocation: schemaLocation,
		CstmrDrctDbtInitn: CustomerDirectDebitInitiation{
			GrpHdr: GroupHeader{
				MsgID:   "MSG" + id + "G",
				CreDtTm: b.now().Format(dateTimeLayout),
				NbOfTxs: len(first) + len(recur),
				CtrlSum: Amount{firstTotal.Add(recurTotal)},
				InitgPty: PartyIdentification{
					Nm: name,
					ID: &PartyPrivateID{PrvtID: PrivateIdentification{Othr: GenericIdentification{ID: creditor.Ics}}},
				},
			},
		},
	}

	if len(firstTxs) > 0 {
		doc.CstmrDrctDbtInitn.PmtInf = append(doc.CstmrDrctDbtInitn.PmtInf,
			paymentInformation("MSG"+id+"F", "FRST", firstTxs, firstTotal, creditor, name, collectionDate))
	}
	if len(recurTxs) > 0 {
		doc.CstmrDrctDbtInitn.PmtInf = append(doc.CstmrDrctDbtInitn.PmtInf,
			paymentInformation("MSG"+id+"R", "RCUR", recurTxs, recurTotal, creditor, name, collectionDate))
	}
	return doc, nil
}

// ValidateCreditor проверяет, что у компании есть все реквизиты кредитора
func ValidateCreditor(creditor model.Company) error {
	_, err := creditorName(creditor)
	return err
}

// creditorName - первое слово названия компании
func creditorName(creditor model.Company) (string, error) {
	words := strings.Fields(creditor.Name)
	if len(words) == 0 || creditor.Iban == "" || creditor.Bic == "" || creditor.Ics == "" {
		return "", errors.Wrapf(model.ErrInsufficientData, "creditor %s identity is incomplete", creditor.ID)
	}
	return words[0], nil
}

func transactions(entries []Entry) ([]DirectDebitTransaction, decimal.Decimal, error) {
	total := decimal.Zero
	txs := make([]DirectDebitTransaction, 0, len(entries))
	for _, entry := range entries {
		if !entry.Payment.IsDirectDebit() {
			return nil, decimal.Zero, errors.Wrapf(model.ErrNotDirectDebit, "payment %s", entry.Payment.Number)
		}
		mandate, err := entry.Customer.ActiveMandate()
		if err != nil {
			return nil, decimal.Zero, errors.Wrapf(err, "customer %s, payment %s", entry.Customer.ID, entry.Payment.Number)
		}
		// CtrlSum должен совпадать с суммой InstdAmt в файле
		amount := entry.Payment.NetInclTaxes
		if !amount.Equal(amount.Round(2)) {
			return nil, decimal.Zero, errors.Wrapf(model.ErrAmountPrecision, "payment %s amount %s", entry.Payment.Number, amount)
		}

		total = total.Add(entry.Payment.NetInclTaxes)
		txs = append(txs, DirectDebitTransaction{
			PmtID: PaymentIdentification{
				InstrID:    entry.Payment.Number,
				EndToEndID: entry.Payment.ID,
			},
			InstdAmt: InstructedAmount{Ccy: currency, Value: Amount{entry.Payment.NetInclTaxes}},
			DrctDbtTx: DirectDebitInfo{MndtRltdInf: MandateRelatedInfo{
				MndtID:    mandate.Rum,
				DtOfSgntr: mandate.SignedAt.Format(dateLayout),
			}},
			DbtrAgt:  BranchAndFinancialInst{FinInstnID: FinancialInstitution{BIC: entry.Customer.Payment.Bic}},
			Dbtr:     PartyIdentification{Nm: entry.Customer.Payment.BankAccountOwner},
			DbtrAcct: CashAccount{ID: AccountID{IBAN: entry.Customer.Payment.Iban}},
		})
	}
	return txs, total, nil
}

func paymentInformation(id, seqType string, txs []DirectDebitTransaction, total decimal.Decimal,
	creditor model.Company, name string, collectionDate time.Time) PaymentInformation {
	return PaymentInformation{
		PmtInfID: id,
		PmtMtd:   paymentMethod,
		NbOfTxs:  len(txs),
		CtrlSum:  Amount{total},
		PmtTpInf: PaymentTypeInformation{
			SvcLvl:    Code{Cd: serviceLevel},
			LclInstrm: Code{Cd: localInstrument},
			SeqTp:     seqType,
		},
		ReqdColltnDt: collectionDate.Format(dateLayout),
		Cdtr:         PartyIdentification{Nm: name},
		CdtrAcct:     CashAccount{ID: AccountID{IBAN: creditor.Iban}, Ccy: currency},
		CdtrAgt:      BranchAndFinancialInst{FinInstnID: FinancialInstitution{BIC: creditor.Bic}},
		ChrgBr:       chargeBearer,
		CdtrSchmeID: PartyIdentification{ID: &PartyPrivateID{PrvtID: PrivateIdentification{Othr: GenericIdentification{
			ID:      creditor.Ics,
			SchmeNm: &SchemeName{Prtry: schemeName},
		}}}},
		DrctDbtTxInf: txs,
	}
}
