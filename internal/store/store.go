package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/store/config"
)

type Store interface {
	PaymentNumberNext(ctx context.Context, prefix string) (int, error)
	PaymentInsert(ctx context.Context, payment model.Payment) error
	PaymentCountWithdrawals(ctx context.Context, customer string) (int, error)
	PaymentGetList(ctx context.Context, filter model.BalanceFilter) ([]model.Payment, error)
	BillInsert(ctx context.Context, bill model.Bill) error
	BillAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.BillGroup, error)
	CreditNoteInsert(ctx context.Context, creditNote model.CreditNote) error
	CreditNoteAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.CreditNoteGroup, error)
	CustomerPut(ctx context.Context, customer model.Customer) error
	CustomerGet(ctx context.Context, id string) (model.Customer, error)
	ThirdPartyPayerPut(ctx context.Context, tpp model.ThirdPartyPayer) error
	CompanyPut(ctx context.Context, company model.Company) error
	CompanyGet(ctx context.Context, id string) (model.Company, error)
	Close() error
}

// коды ошибок postgres
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

type store struct {
	database *sqlx.DB
}

// NewStore возвращает хранилище postgres, либо хранилище в памяти, если DSN не задан
func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemStore(), nil
	}

	db, err := sqlx.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create schema")
		}
	}

	return &store{database: db}, nil
}

var schema = []string{
	// Счетчики номеров платежей.
	// Изменяются только атомарным upsert, см. PaymentNumberNext
	"CREATE TABLE IF NOT EXISTS payment_number (" +
		" prefix VARCHAR (16) PRIMARY KEY," +
		" seq INTEGER NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS payment (" +
		" id VARCHAR (40) PRIMARY KEY," +
		" number VARCHAR (20) NOT NULL UNIQUE," +
		" date TIMESTAMPTZ NOT NULL," +
		" customer VARCHAR (40) NOT NULL," +
		" third_party_payer VARCHAR (40)," +
		" net_incl_taxes NUMERIC (12, 2) NOT NULL," +
		" nature VARCHAR (10) NOT NULL," +
		" type VARCHAR (20) NOT NULL," +
		" rum VARCHAR (35) NOT NULL DEFAULT ''," +
		" company VARCHAR (40) NOT NULL DEFAULT ''" +
		" );",
	"CREATE INDEX IF NOT EXISTS payment_customer_type ON payment (customer, type);",
	"CREATE TABLE IF NOT EXISTS bill (" +
		" id VARCHAR (40) PRIMARY KEY," +
		" number VARCHAR (20) NOT NULL DEFAULT ''," +
		" date TIMESTAMPTZ NOT NULL," +
		" customer VARCHAR (40) NOT NULL," +
		" third_party_payer VARCHAR (40)," +
		" net_incl_taxes NUMERIC (12, 2) NOT NULL," +
		" sent TIMESTAMPTZ" +
		" );",
	"CREATE TABLE IF NOT EXISTS credit_note (" +
		" id VARCHAR (40) PRIMARY KEY," +
		" number VARCHAR (20) NOT NULL DEFAULT ''," +
		" date TIMESTAMPTZ NOT NULL," +
		" customer VARCHAR (40) NOT NULL," +
		" third_party_payer VARCHAR (40)," +
		" incl_taxes_customer NUMERIC (12, 2) NOT NULL DEFAULT 0," +
		" incl_taxes_tpp NUMERIC (12, 2) NOT NULL DEFAULT 0" +
		" );",
	// Мандаты хранятся упорядоченным массивом, действующий - последний
	"CREATE TABLE IF NOT EXISTS customer (" +
		" id VARCHAR (40) PRIMARY KEY," +
		" identity_name VARCHAR (100) NOT NULL DEFAULT ''," +
		" bank_account_owner VARCHAR (70) NOT NULL DEFAULT ''," +
		" iban VARCHAR (34) NOT NULL DEFAULT ''," +
		" bic VARCHAR (11) NOT NULL DEFAULT ''," +
		" mandates JSONB NOT NULL DEFAULT '[]'" +
		" );",
	"CREATE TABLE IF NOT EXISTS third_party_payer (" +
		" id VARCHAR (40) PRIMARY KEY," +
		" name VARCHAR (100) NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS company (" +
		" id VARCHAR (40) PRIMARY KEY," +
		" name VARCHAR (100) NOT NULL," +
		" iban VARCHAR (34) NOT NULL," +
		" bic VARCHAR (11) NOT NULL," +
		" ics VARCHAR (35) NOT NULL" +
		" );",
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) PaymentNumberNext(ctx context.Context, prefix string) (int, error) {
	// find-or-create + инкремент одним запросом, без окна чтение-запись
	var seq int
	err := store.database.GetContext(ctx, &seq,
		"INSERT INTO payment_number (prefix, seq)"+
			" VALUES ($1, 1)"+
			" ON CONFLICT (prefix) DO UPDATE"+
			" SET seq = payment_number.seq + 1"+
			" RETURNING seq",
		prefix)
	if err != nil {
		return 0, mapError(err)
	}
	return seq, nil
}

func (store *store) PaymentInsert(ctx context.Context, payment model.Payment) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO payment (id, number, date, customer, third_party_payer, net_incl_taxes, nature, type, rum, company)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		payment.ID,
		payment.Number,
		payment.Date,
		payment.Customer,
		nullString(payment.ThirdPartyPayer),
		payment.NetInclTaxes,
		string(payment.Nature),
		string(payment.Type),
		payment.Rum,
		payment.Company)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (store *store) PaymentCountWithdrawals(ctx context.Context, customer string) (int, error) {
	var count int
	err := store.database.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM payment"+
			" WHERE customer = $1"+
			"   AND type = $2"+
			"   AND nature = $3",
		customer,
		string(model.PaymentTypeWithdrawal),
		string(model.PaymentNaturePayment))
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

type paymentRow struct {
	ID              string          `db:"id"`
	Number          string          `db:"number"`
	Date            time.Time       `db:"date"`
	Customer        string          `db:"customer"`
	ThirdPartyPayer string          `db:"third_party_payer"`
	NetInclTaxes    decimal.Decimal `db:"net_incl_taxes"`
	Nature          string          `db:"nature"`
	Type            string          `db:"type"`
	Rum             string          `db:"rum"`
	Company         string          `db:"company"`
}

func (store *store) PaymentGetList(ctx context.Context, filter model.BalanceFilter) ([]model.Payment, error) {
	var rows []paymentRow
	err := store.database.SelectContext(ctx, &rows,
		"SELECT id, number, date, customer, COALESCE(third_party_payer, '') AS third_party_payer,"+
			" net_incl_taxes, nature, type, rum, company"+
			" FROM payment"+
			" WHERE ($1 = '' OR customer = $1)"+
			"   AND ($2::timestamptz IS NULL OR date <= $2)"+
			" ORDER BY date, number",
		filter.Customer,
		filter.DateMax)
	if err != nil {
		return nil, mapError(err)
	}

	payments := make([]model.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, model.Payment{
			ID:              row.ID,
			Number:          row.Number,
			Date:            row.Date,
			Customer:        row.Customer,
			ThirdPartyPayer: row.ThirdPartyPayer,
			NetInclTaxes:    row.NetInclTaxes,
			Nature:          model.PaymentNature(row.Nature),
			Type:            model.PaymentType(row.Type),
			Rum:             row.Rum,
			Company:         row.Company,
		})
	}
	return payments, nil
}

func (store *store) BillInsert(ctx context.Context, bill model.Bill) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO bill (id, number, date, customer, third_party_payer, net_incl_taxes, sent)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		bill.ID,
		bill.Number,
		bill.Date,
		bill.Customer,
		nullString(bill.ThirdPartyPayer),
		bill.NetInclTaxes,
		bill.Sent)
	if err != nil {
		return mapError(err)
	}
	return nil
}

type billGroupRow struct {
	Customer        string          `db:"customer"`
	ThirdPartyPayer string          `db:"third_party_payer"`
	Billed          decimal.Decimal `db:"billed"`
}

func (store *store) BillAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.BillGroup, error) {
	var rows []billGroupRow
	err := store.database.SelectContext(ctx, &rows,
		"SELECT customer, COALESCE(third_party_payer, '') AS third_party_payer, SUM(net_incl_taxes) AS billed"+
			" FROM bill"+
			" WHERE ($1 = '' OR customer = $1)"+
			"   AND ($2::timestamptz IS NULL OR date <= $2)"+
			" GROUP BY customer, COALESCE(third_party_payer, '')",
		filter.Customer,
		filter.DateMax)
	if err != nil {
		return nil, mapError(err)
	}

	groups := make([]model.BillGroup, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, model.BillGroup{
			Key:    model.BalanceKey{Customer: row.Customer, ThirdPartyPayer: row.ThirdPartyPayer},
			Billed: row.Billed,
		})
	}
	return groups, nil
}

func (store *store) CreditNoteInsert(ctx context.Context, creditNote model.CreditNote) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO credit_note (id, number, date, customer, third_party_payer, incl_taxes_customer, incl_taxes_tpp)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		creditNote.ID,
		creditNote.Number,
		creditNote.Date,
		creditNote.Customer,
		nullString(creditNote.ThirdPartyPayer),
		creditNote.InclTaxesCustomer,
		creditNote.InclTaxesTpp)
	if err != nil {
		return mapError(err)
	}
	return nil
}

type creditNoteGroupRow struct {
	Customer          string          `db:"customer"`
	ThirdPartyPayer   string          `db:"third_party_payer"`
	InclTaxesCustomer decimal.Decimal `db:"incl_taxes_customer"`
	InclTaxesTpp      decimal.Decimal `db:"incl_taxes_tpp"`
}

func (store *store) CreditNoteAggregate(ctx context.Context, filter model.BalanceFilter) ([]model.CreditNoteGroup, error) {
	var rows []creditNoteGroupRow
	err := store.database.SelectContext(ctx, &rows,
		"SELECT customer, COALESCE(third_party_payer, '') AS third_party_payer,"+
			" SUM(incl_taxes_customer) AS incl_taxes_customer, SUM(incl_taxes_tpp) AS incl_taxes_tpp"+
			" FROM credit_note"+
			" WHERE ($1 = '' OR customer = $1)"+
			"   AND ($2::timestamptz IS NULL OR date <= $2)"+
			" GROUP BY customer, COALESCE(third_party_payer, '')",
		filter.Customer,
		filter.DateMax)
	if err != nil {
		return nil, mapError(err)
	}

	groups := make([]model.CreditNoteGroup, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, model.CreditNoteGroup{
			Key:               model.BalanceKey{Customer: row.Customer, ThirdPartyPayer: row.ThirdPartyPayer},
			InclTaxesCustomer: row.InclTaxesCustomer,
			InclTaxesTpp:      row.InclTaxesTpp,
		})
	}
	return groups, nil
}

func (store *store) CustomerPut(ctx context.Context, customer model.Customer) error {
	mandates := customer.Payment.Mandates
	if mandates == nil {
		mandates = []model.Mandate{}
	}
	mandatesJSON, err := json.Marshal(mandates)
	if err != nil {
		return err
	}

	_, err = store.database.ExecContext(ctx,
		"INSERT INTO customer (id, identity_name, bank_account_owner, iban, bic, mandates)"+
			" VALUES ($1, $2, $3, $4, $5, $6)"+
			" ON CONFLICT (id) DO UPDATE"+
			" SET identity_name = EXCLUDED.identity_name,"+
			"     bank_account_owner = EXCLUDED.bank_account_owner,"+
			"     iban = EXCLUDED.iban,"+
			"     bic = EXCLUDED.bic,"+
			"     mandates = EXCLUDED.mandates",
		customer.ID,
		customer.IdentityName,
		customer.Payment.BankAccountOwner,
		customer.Payment.Iban,
		customer.Payment.Bic,
		string(mandatesJSON))
	if err != nil {
		return mapError(err)
	}
	return nil
}

type customerRow struct {
	ID               string `db:"id"`
	IdentityName     string `db:"identity_name"`
	BankAccountOwner string `db:"bank_account_owner"`
	Iban             string `db:"iban"`
	Bic              string `db:"bic"`
	Mandates         string `db:"mandates"`
}

func (store *store) CustomerGet(ctx context.Context, id string) (model.Customer, error) {
	var row customerRow
	err := store.database.GetContext(ctx, &row,
		"SELECT id, identity_name, bank_account_owner, iban, bic, mandates::text AS mandates"+
			" FROM customer"+
			" WHERE id = $1",
		id)
	if err != nil {
		return model.Customer{}, mapError(err)
	}

	var mandates []model.Mandate
	if err = json.Unmarshal([]byte(row.Mandates), &mandates); err != nil {
		return model.Customer{}, errors.Wrapf(err, "customer %s mandates", id)
	}

	return model.Customer{
		ID:           row.ID,
		IdentityName: row.IdentityName,
		Payment: model.CustomerPayment{
			BankAccountOwner: row.BankAccountOwner,
			Iban:             row.Iban,
			Bic:              row.Bic,
			Mandates:         mandates,
		},
	}, nil
}

func (store *store) ThirdPartyPayerPut(ctx context.Context, tpp model.ThirdPartyPayer) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO third_party_payer (id, name)"+
			" VALUES ($1, $2)"+
			" ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name",
		tpp.ID,
		tpp.Name)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (store *store) CompanyPut(ctx context.Context, company model.Company) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO company (id, name, iban, bic, ics)"+
			" VALUES ($1, $2, $3, $4, $5)"+
			" ON CONFLICT (id) DO UPDATE"+
			" SET name = EXCLUDED.name, iban = EXCLUDED.iban, bic = EXCLUDED.bic, ics = EXCLUDED.ics",
		company.ID,
		company.Name,
		company.Iban,
		company.Bic,
		company.Ics)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (store *store) CompanyGet(ctx context.Context, id string) (model.Company, error) {
	var company model.Company
	err := store.database.QueryRowxContext(ctx,
		"SELECT id, name, iban, bic, ics FROM company"+
			" WHERE id = $1",
		id).Scan(&company.ID,
		&company.Name,
		&company.Iban,
		&company.Bic,
		&company.Ics)
	if err != nil {
		return model.Company{}, mapError(err)
	}
	return company, nil
}

// mapError переводит ошибки драйвера в ошибки модели
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(err, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Mark(err, model.ErrAlreadyExists)
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return errors.Mark(err, model.ErrSequenceContention)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
