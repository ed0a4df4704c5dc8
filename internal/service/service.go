package service

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/balance"
	"github.com/iurnickita/homecare/internal/docstore"
	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/payment"
	"github.com/iurnickita/homecare/internal/sepa"
	sepaConfig "github.com/iurnickita/homecare/internal/sepa/config"
	"github.com/iurnickita/homecare/internal/sequence"
	sequenceConfig "github.com/iurnickita/homecare/internal/sequence/config"
	"github.com/iurnickita/homecare/internal/service/config"
	"github.com/iurnickita/homecare/internal/store"
)

// число клиентов пакета, обрабатываемых одновременно
const batchWorkers = 8

type Service interface {
	Balances(ctx context.Context, filter model.BalanceFilter) ([]model.BalanceEntry, error)
	CreatePayment(ctx context.Context, companyID string, raw model.Payment) (model.Payment, error)
	SubmitDirectDebits(ctx context.Context, companyID string, raws []model.Payment, collectionDate time.Time) (BatchResult, error)
}

// Failure - платеж пакета, который не сохранен
type Failure struct {
	Index   int
	Payment model.Payment
	Err     error
}

// BatchResult - итог пакета. Payments - все сохраненные платежи в порядке подачи
type BatchResult struct {
	FilePath   string
	MessageID  string
	DocumentID string
	Payments   []model.Payment
	First      []model.Payment
	Recurring  []model.Payment
	Failures   []Failure
}

type Deps struct {
	Store    store.Store
	Uploader docstore.Uploader // nil - выгрузка отключена
	Sequence sequenceConfig.Config
	Sepa     sepaConfig.Config
}

type service struct {
	cfg        config.Config
	store      store.Store
	balance    balance.Balance
	formatter  payment.Formatter
	classifier *payment.Classifier
	builder    *sepa.Builder
	writer     *sepa.Writer
	uploader   docstore.Uploader
	zaplog     *zap.Logger
	now        func() time.Time
}

func NewService(cfg config.Config, deps Deps, zaplog *zap.Logger) (Service, error) {
	if deps.Store == nil {
		return nil, errors.New("service needs a store")
	}

	issuer := sequence.NewIssuer(deps.Sequence, deps.Store, zaplog)

	service := service{
		cfg:        cfg,
		store:      deps.Store,
		balance:    balance.NewBalance(deps.Store, zaplog),
		formatter:  payment.NewFormatter(issuer),
		classifier: payment.NewClassifier(deps.Store, payment.NewLocker()),
		builder:    sepa.NewBuilder(),
		writer:     sepa.NewWriter(deps.Sepa),
		uploader:   deps.Uploader,
		zaplog:     zaplog,
		now:        time.Now,
	}

	return &service, nil
}

func (service *service) Balances(ctx context.Context, filter model.BalanceFilter) ([]model.BalanceEntry, error) {
	return service.balance.Compute(ctx, filter)
}

// CreatePayment - одиночный платеж: номер, запись. Для списания RUM берется из действующего мандата
func (service *service) CreatePayment(ctx context.Context, companyID string, raw model.Payment) (model.Payment, error) {
	raw.Company = companyID
	if err := payment.Validate(raw); err != nil {
		return model.Payment{}, err
	}

	if raw.IsDirectDebit() {
		customer, err := service.store.CustomerGet(ctx, raw.Customer)
		if err != nil {
			return model.Payment{}, err
		}
		mandate, err := customer.ActiveMandate()
		if err != nil {
			return model.Payment{}, errors.Wrapf(err, "customer %s", customer.ID)
		}
		raw.Rum = mandate.Rum
	}

	formatted, err := service.formatter.Format(ctx, raw)
	if err != nil {
		return model.Payment{}, err
	}
	if err = service.store.PaymentInsert(ctx, formatted); err != nil {
		return model.Payment{}, err
	}

	service.zaplog.Info("payment created",
		zap.String("number", formatted.Number),
		zap.String("customer", formatted.Customer),
		zap.String("type", string(formatted.Type)))
	return formatted, nil
}

// staged - платеж пакета, прошедший проверки
type staged struct {
	index int
	raw   model.Payment
}

// committed - результат записи платежа пакета
type committed struct {
	index   int
	payment model.Payment
	seqType payment.SequenceType
	err     error
}

// SubmitDirectDebits сохраняет пакет платежей и строит SEPA-файл по сохраненным списаниям.
// Сохраненные платежи не откатываются: ошибки отдельных платежей возвращаются в Failures
func (service *service) SubmitDirectDebits(ctx context.Context, companyID string, raws []model.Payment, collectionDate time.Time) (BatchResult, error) {
	if len(raws) == 0 {
		return BatchResult{}, errors.Wrap(model.ErrInsufficientData, "empty batch")
	}

	ctx, cancel := context.WithTimeout(ctx, service.cfg.BatchTimeout)
	defer cancel()

	company, err := service.store.CompanyGet(ctx, companyID)
	if err != nil {
		return BatchResult{}, err
	}
	if lo.ContainsBy(raws, func(raw model.Payment) bool { return raw.IsDirectDebit() }) {
		if err = sepa.ValidateCreditor(company); err != nil {
			return BatchResult{}, err
		}
	}
	if collectionDate.IsZero() {
		collectionDate = service.now().AddDate(0, 0, service.cfg.CollectionLeadDays)
	}

	// 1. проверки до записи
	var result BatchResult
	customers := make(map[string]model.Customer)
	groups := make(map[string][]staged)
	var order []string
	for i, raw := range raws {
		raw.Company = companyID
		if err := service.stage(ctx, &raw, customers); err != nil {
			result.Failures = append(result.Failures, Failure{Index: i, Payment: raw, Err: err})
			continue
		}
		if _, ok := groups[raw.Customer]; !ok {
			order = append(order, raw.Customer)
		}
		groups[raw.Customer] = append(groups[raw.Customer], staged{index: i, raw: raw})
	}

	// 2. запись: клиенты параллельно, платежи клиента по порядку
	outcomes := make([][]committed, len(order))
	p := pool.New().WithMaxGoroutines(batchWorkers)
	for i, customerID := range order {
		p.Go(func() {
			outcomes[i] = service.persistCustomer(ctx, customerID, groups[customerID])
		})
	}
	// 3. барьер
	p.Wait()

	all := slices.Concat(outcomes...)
	slices.SortFunc(all, func(a, b committed) int { return a.index - b.index })

	var first, recur []sepa.Entry
	for _, outcome := range all {
		if outcome.err != nil {
			result.Failures = append(result.Failures, Failure{Index: outcome.index, Payment: raws[outcome.index], Err: outcome.err})
			continue
		}
		result.Payments = append(result.Payments, outcome.payment)
		entry := sepa.Entry{Payment: outcome.payment, Customer: customers[outcome.payment.Customer]}
		switch outcome.seqType {
		case payment.First:
			result.First = append(result.First, outcome.payment)
			first = append(first, entry)
		case payment.Recurring:
			result.Recurring = append(result.Recurring, outcome.payment)
			recur = append(recur, entry)
		}
	}
	slices.SortFunc(result.Failures, func(a, b Failure) int { return a.Index - b.Index })

	// 4. файл только по сохраненным списаниям
	if len(first)+len(recur) > 0 {
		if err = service.writeDocument(ctx, &result, first, recur, company, collectionDate); err != nil {
			return result, err
		}
	}

	service.zaplog.Info("direct debit batch submitted",
		zap.String("company", companyID),
		zap.Int("submitted", len(raws)),
		zap.Int("committed", len(result.Payments)),
		zap.Int("first", len(result.First)),
		zap.Int("recurring", len(result.Recurring)),
		zap.Int("failed", len(result.Failures)),
		zap.String("file", result.FilePath))

	// 5. частичный успех
	if len(result.Failures) > 0 {
		return result, errors.Mark(
			errors.Newf("%d of %d payments failed", len(result.Failures), len(raws)),
			model.ErrPartialBatchFailure)
	}
	return result, nil
}

// stage проверяет платеж и для списания подставляет RUM действующего мандата
func (service *service) stage(ctx context.Context, raw *model.Payment, customers map[string]model.Customer) error {
	if err := payment.Validate(*raw); err != nil {
		return err
	}
	if !raw.IsDirectDebit() {
		return nil
	}

	customer, ok := customers[raw.Customer]
	if !ok {
		var err error
		customer, err = service.store.CustomerGet(ctx, raw.Customer)
		if err != nil {
			return err
		}
		customers[raw.Customer] = customer
	}
	mandate, err := customer.ActiveMandate()
	if err != nil {
		return errors.Wrapf(err, "customer %s", customer.ID)
	}
	raw.Rum = mandate.Rum
	return nil
}

// persistCustomer пишет платежи одного клиента под его блокировкой
func (service *service) persistCustomer(ctx context.Context, customerID string, items []staged) []committed {
	outcomes := make([]committed, 0, len(items))

	session, err := service.classifier.Begin(ctx, customerID)
	if err != nil {
		for _, item := range items {
			outcomes = append(outcomes, committed{index: item.index, err: err})
		}
		return outcomes
	}
	defer session.Close()

	for _, item := range items {
		formatted, err := service.formatter.Format(ctx, item.raw)
		if err == nil {
			err = service.store.PaymentInsert(ctx, formatted)
		}
		if err != nil {
			service.zaplog.Warn("batch payment not saved",
				zap.String("customer", customerID),
				zap.Int("index", item.index),
				zap.Error(err))
			outcomes = append(outcomes, committed{index: item.index, err: err})
			continue
		}

		// классификация окончательна только после записи
		seqType, _ := session.Commit(formatted)
		outcomes = append(outcomes, committed{index: item.index, payment: formatted, seqType: seqType})
	}
	return outcomes
}

func (service *service) writeDocument(ctx context.Context, result *BatchResult, first, recur []sepa.Entry,
	company model.Company, collectionDate time.Time) error {
	doc, err := service.builder.Build(first, recur, company, collectionDate)
	if err != nil {
		return errors.Wrap(err, "build sepa document")
	}
	path, err := service.writer.Write(doc)
	if err != nil {
		return errors.Wrap(err, "write sepa document")
	}
	result.FilePath = path
	result.MessageID = doc.MessageID()

	if service.uploader == nil {
		return nil
	}
	// файл уже записан: ошибка выгрузки не отменяет пакет
	id, err := service.uploader.Upload(ctx, path)
	if err != nil {
		service.zaplog.Warn("sepa file upload failed", zap.String("file", path), zap.Error(err))
		return nil
	}
	result.DocumentID = id
	return nil
}
