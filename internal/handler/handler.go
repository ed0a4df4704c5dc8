package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/auth"
	"github.com/iurnickita/homecare/internal/handler/config"
	"github.com/iurnickita/homecare/internal/logger"
	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/service"
)

const (
	dateLayout      = "2006-01-02"
	shutdownTimeout = 10 * time.Second
)

// Serve работает до отмены ctx
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zaplog.Error("server shutdown", zap.Error(err))
		}
	}()

	zaplog.Info("listening", zap.String("addr", cfg.ServerAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

type handler struct {
	auth     auth.Auth
	service  service.Service
	validate *validator.Validate
	zaplog   *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:     auth,
		service:  service,
		validate: validator.New(),
		zaplog:   zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/balances", logger.RequestLogMdlw(h.auth.Middleware(h.GetBalances), h.zaplog))
	mux.HandleFunc("POST /api/payments", logger.RequestLogMdlw(h.auth.Middleware(h.PostPayment), h.zaplog))
	mux.HandleFunc("POST /api/payments/createlist", logger.RequestLogMdlw(h.auth.Middleware(h.PostPaymentList), h.zaplog))

	return mux
}

type PaymentJSONResponse struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Date            string          `json:"date"`
	Customer        string          `json:"customer"`
	ThirdPartyPayer *string         `json:"thirdPartyPayer"`
	NetInclTaxes    decimal.Decimal `json:"netInclTaxes"`
	Nature          string          `json:"nature"`
	Type            string          `json:"type"`
	Rum             string          `json:"rum,omitempty"`
}

type BalanceJSONResponse struct {
	Customer        string                `json:"customer"`
	ThirdPartyPayer *string               `json:"thirdPartyPayer"`
	Billed          decimal.Decimal       `json:"billed"`
	RefundCustomer  decimal.Decimal       `json:"refundCustomer"`
	RefundTpp       decimal.Decimal       `json:"refundTpp"`
	Refund          decimal.Decimal       `json:"refund"`
	Paid            decimal.Decimal       `json:"paid"`
	Balance         decimal.Decimal       `json:"balance"`
	Payments        []PaymentJSONResponse `json:"payments"`
}

func (h *handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	filter := model.BalanceFilter{Customer: r.URL.Query().Get("customer")}
	if date := r.URL.Query().Get("date"); date != "" {
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		// включительно до конца дня
		dateMax := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.DateMax = &dateMax
	}

	entries, err := h.service.Balances(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	balancesJSON := lo.Map(entries, func(entry model.BalanceEntry, _ int) BalanceJSONResponse {
		return BalanceJSONResponse{
			Customer:        entry.Key.Customer,
			ThirdPartyPayer: optional(entry.Key.ThirdPartyPayer),
			Billed:          amountOutput(entry.Billed),
			RefundCustomer:  amountOutput(entry.RefundCustomer),
			RefundTpp:       amountOutput(entry.RefundTpp),
			Refund:          amountOutput(entry.RefundCustomer.Add(entry.RefundTpp)),
			Paid:            amountOutput(entry.Paid()),
			Balance:         amountOutput(entry.Balance),
			Payments:        lo.Map(entry.Payments, paymentOutput),
		}
	})
	h.writeJSON(w, http.StatusOK, balancesJSON)
}

type PaymentJSONRequest struct {
	Date            string          `json:"date" validate:"required,datetime=2006-01-02"`
	Customer        string          `json:"customer" validate:"required"`
	ThirdPartyPayer string          `json:"thirdPartyPayer"`
	NetInclTaxes    decimal.Decimal `json:"netInclTaxes"`
	Nature          string          `json:"nature" validate:"required"`
	Type            string          `json:"type" validate:"required"`
}

func (h *handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	var paymentJSON PaymentJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&paymentJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(paymentJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	company := r.Header.Get(auth.CompanyKey)
	created, err := h.service.CreatePayment(r.Context(), company, paymentInput(paymentJSON))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, paymentOutput(created, 0))
}

type PaymentListJSONRequest struct {
	CollectionDate string               `json:"collectionDate" validate:"omitempty,datetime=2006-01-02"`
	Payments       []PaymentJSONRequest `json:"payments" validate:"required,min=1,dive"`
}

type FailureJSONResponse struct {
	Index    int    `json:"index"`
	Customer string `json:"customer"`
	Error    string `json:"error"`
}

type BatchJSONResponse struct {
	File       string                `json:"file,omitempty"`
	MessageID  string                `json:"messageId,omitempty"`
	DocumentID string                `json:"documentId,omitempty"`
	Payments   []PaymentJSONResponse `json:"payments"`
	First      []string              `json:"first"`
	Recurring  []string              `json:"recurring"`
	Failures   []FailureJSONResponse `json:"failures"`
}

func (h *handler) PostPaymentList(w http.ResponseWriter, r *http.Request) {
	var listJSON PaymentListJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&listJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(listJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var collectionDate time.Time
	if listJSON.CollectionDate != "" {
		collectionDate, _ = time.Parse(dateLayout, listJSON.CollectionDate)
	}

	company := r.Header.Get(auth.CompanyKey)
	raws := lo.Map(listJSON.Payments, func(p PaymentJSONRequest, _ int) model.Payment { return paymentInput(p) })
	result, err := h.service.SubmitDirectDebits(r.Context(), company, raws, collectionDate)
	if err != nil && !errors.Is(err, model.ErrPartialBatchFailure) {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	switch {
	case len(result.Failures) > 0 && len(result.Payments) > 0:
		status = http.StatusMultiStatus
	case len(result.Failures) > 0:
		// ничего не сохранено: статус по первой ошибке
		status = statusOf(result.Failures[0].Err)
	}

	toNumber := func(p model.Payment, _ int) string { return p.Number }
	h.writeJSON(w, status, BatchJSONResponse{
		File:       result.FilePath,
		MessageID:  result.MessageID,
		DocumentID: result.DocumentID,
		Payments:   lo.Map(result.Payments, paymentOutput),
		First:      lo.Map(result.First, toNumber),
		Recurring:  lo.Map(result.Recurring, toNumber),
		Failures: lo.Map(result.Failures, func(f service.Failure, _ int) FailureJSONResponse {
			return FailureJSONResponse{Index: f.Index, Customer: f.Payment.Customer, Error: f.Err.Error()}
		}),
	})
}

// statusOf - HTTP-статус для ошибки сервиса
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidNature),
		errors.Is(err, model.ErrInvalidType),
		errors.Is(err, model.ErrInsufficientData),
		errors.Is(err, model.ErrRefundDirectDebit):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrMissingMandate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrSequenceContention):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		// детали внутренних ошибок наружу не отдаем
		h.zaplog.Error("request failed", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

func paymentInput(p PaymentJSONRequest) model.Payment {
	// формат проверен валидатором
	date, _ := time.Parse(dateLayout, p.Date)
	return model.Payment{
		Date:            date,
		Customer:        p.Customer,
		ThirdPartyPayer: p.ThirdPartyPayer,
		NetInclTaxes:    p.NetInclTaxes,
		Nature:          model.PaymentNature(p.Nature),
		Type:            model.PaymentType(p.Type),
	}
}

func paymentOutput(p model.Payment, _ int) PaymentJSONResponse {
	return PaymentJSONResponse{
		ID:              p.ID,
		Number:          p.Number,
		Date:            p.Date.Format(dateLayout),
		Customer:        p.Customer,
		ThirdPartyPayer: optional(p.ThirdPartyPayer),
		NetInclTaxes:    amountOutput(p.NetInclTaxes),
		Nature:          string(p.Nature),
		Type:            string(p.Type),
		Rum:             p.Rum,
	}
}

// amountOutput - сумма в центах; в JSON строкой, без потери точности
func amountOutput(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// optional - пустая строка в JSON как null
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
