package sequence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/sequence/config"
)

// префиксы номеров по природе платежа
const (
	PrefixPayment = "REG-"
	PrefixRefund  = "REMB-"
)

type Counter interface {
	PaymentNumberNext(ctx context.Context, prefix string) (int, error)
}

type Issuer interface {
	NextNumber(ctx context.Context, nature model.PaymentNature, asOf time.Time) (model.PaymentNumber, error)
}

type issuer struct {
	cfg     config.Config
	counter Counter
	zaplog  *zap.Logger
}

func NewIssuer(cfg config.Config, counter Counter, zaplog *zap.Logger) Issuer {
	return &issuer{cfg: cfg, counter: counter, zaplog: zaplog}
}

// Prefix - префикс счетчика: литерал природы + YYMM даты
func Prefix(nature model.PaymentNature, asOf time.Time) (string, error) {
	var literal string
	switch nature {
	case model.PaymentNaturePayment:
		literal = PrefixPayment
	case model.PaymentNatureRefund:
		literal = PrefixRefund
	default:
		return "", errors.Wrapf(model.ErrInvalidNature, "nature %q", nature)
	}
	return literal + asOf.Format("0601"), nil
}

func (issuer *issuer) NextNumber(ctx context.Context, nature model.PaymentNature, asOf time.Time) (model.PaymentNumber, error) {
	prefix, err := Prefix(nature, asOf)
	if err != nil {
		return model.PaymentNumber{}, err
	}

	// инкремент атомарен в хранилище, повтор после конфликта безопасен
	var seq int
	operation := func() error {
		var err error
		seq, err = issuer.counter.PaymentNumberNext(ctx, prefix)
		if err != nil && !errors.Is(err, model.ErrSequenceContention) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	if issuer.cfg.InitialInterval > 0 {
		policy.InitialInterval = issuer.cfg.InitialInterval
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, issuer.cfg.MaxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		issuer.zaplog.Warn("payment number contention, retrying",
			zap.String("prefix", prefix),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err = backoff.RetryNotify(operation, retry, notify); err != nil {
		return model.PaymentNumber{}, errors.Wrapf(err, "next payment number for %s", prefix)
	}

	number := model.PaymentNumber{Prefix: prefix, Seq: seq}
	issuer.zaplog.Debug("payment number issued",
		zap.String("prefix", prefix),
		zap.Int("seq", seq))
	return number, nil
}
