package sepa

import (
	"encoding/xml"

	"github.com/shopspring/decimal"
)

// Элементы pain.008.001.02, по типу на элемент. Порядок полей = порядок в XSD

const (
	Namespace      = "urn:iso:std:iso:20022:tech:xsd:pain.008.001.02"
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation = Namespace + " pain.008.001.02.xsd"
)

const (
	paymentMethod   = "DD"
	serviceLevel    = "SEPA"
	localInstrument = "CORE"
	chargeBearer    = "SLEV"
	schemeName      = "SEPA"
	currency        = "EUR"

	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"
)

type Document struct {
	XMLName           xml.Name                      `xml:"Document"`
	Xmlns             string                        `xml:"xmlns,attr"`
	XmlnsXsi          string                        `xml:"xmlns:xsi,attr"`
	SchemaLocation    string                        `xml:"xsi:schemaLocation,attr"`
	CstmrDrctDbtInitn CustomerDirectDebitInitiation `xml:"CstmrDrctDbtInitn"`
}

// MessageID - идентификатор сообщения из заголовка
func (d *Document) MessageID() string {
	return d.CstmrDrctDbtInitn.GrpHdr.MsgID
}

type CustomerDirectDebitInitiation struct {
	GrpHdr GroupHeader          `xml:"GrpHdr"`
	PmtInf []PaymentInformation `xml:"PmtInf"`
}

type GroupHeader struct {
	MsgID    string              `xml:"MsgId"`
	CreDtTm  string              `xml:"CreDtTm"`
	NbOfTxs  int                 `xml:"NbOfTxs"`
	CtrlSum  Amount              `xml:"CtrlSum"`
	InitgPty PartyIdentification `xml:"InitgPty"`
}

type PartyIdentification struct {
	Nm string          `xml:"Nm,omitempty"`
	ID *PartyPrivateID `xml:"Id,omitempty"`
}

type PartyPrivateID struct {
	PrvtID PrivateIdentification `xml:"PrvtId"`
}

type PrivateIdentification struct {
	Othr GenericIdentification `xml:"Othr"`
}

type GenericIdentification struct {
	ID      string      `xml:"Id"`
	SchmeNm *SchemeName `xml:"SchmeNm,omitempty"`
}

type SchemeName struct {
	Prtry string `xml:"Prtry"`
}

type PaymentInformation struct {
	PmtInfID     string                   `xml:"PmtInfId"`
	PmtMtd       string                   `xml:"PmtMtd"`
	NbOfTxs      int                      `xml:"NbOfTxs"`
	CtrlSum      Amount                   `xml:"CtrlSum"`
	PmtTpInf     PaymentTypeInformation   `xml:"PmtTpInf"`
	ReqdColltnDt string                   `xml:"ReqdColltnDt"`
	Cdtr         PartyIdentification      `xml:"Cdtr"`
	CdtrAcct     CashAccount              `xml:"CdtrAcct"`
	CdtrAgt      BranchAndFinancialInst   `xml:"CdtrAgt"`
	ChrgBr       string                   `xml:"ChrgBr"`
	CdtrSchmeID  PartyIdentification      `xml:"CdtrSchmeId"`
	DrctDbtTxInf []DirectDebitTransaction `xml:"DrctDbtTxInf"`
}

type PaymentTypeInformation struct {
	SvcLvl    Code   `xml:"SvcLvl"`
	LclInstrm Code   `xml:"LclInstrm"`
	SeqTp     string `xml:"SeqTp"`
}

type Code struct {
	Cd string `xml:"Cd"`
}

type CashAccount struct {
	ID  AccountID `xml:"Id"`
	Ccy string    `xml:"Ccy,omitempty"`
}

type AccountID struct {
	IBAN string `xml:"IBAN"`
}

type BranchAndFinancialInst struct {
	FinInstnID FinancialInstitution `xml:"FinInstnId"`
}

type FinancialInstitution struct {
	BIC string `xml:"BIC"`
}

type DirectDebitTransaction struct {
	PmtID     PaymentIdentification  `xml:"PmtId"`
	InstdAmt  InstructedAmount       `xml:"InstdAmt"`
	DrctDbtTx DirectDebitInfo        `xml:"DrctDbtTx"`
	DbtrAgt   BranchAndFinancialInst `xml:"DbtrAgt"`
	Dbtr      PartyIdentification    `xml:"Dbtr"`
	DbtrAcct  CashAccount            `xml:"DbtrAcct"`
}

type PaymentIdentification struct {
	InstrID    string `xml:"InstrId"`
	EndToEndID string `xml:"EndToEndId"`
}

type InstructedAmount struct {
	Ccy   string `xml:"Ccy,attr"`
	Value Amount `xml:",chardata"`
}

type DirectDebitInfo struct {
	MndtRltdInf MandateRelatedInfo `xml:"MndtRltdInf"`
}

type MandateRelatedInfo struct {
	MndtID    string `xml:"MndtId"`
	DtOfSgntr string `xml:"DtOfSgntr"`
}

// Amount - сумма в евро, всегда два знака после запятой
type Amount struct {
	decimal.Decimal
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	return a.Decimal.UnmarshalText(text)
}
