package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/model"
	"github.com/iurnickita/homecare/internal/sequence/config"
	"github.com/iurnickita/homecare/internal/store"
)

var testConfig = config.Config{MaxRetries: 3, InitialInterval: time.Millisecond}

// flakyCounter отвечает конфликтом заданное число раз
type flakyCounter struct {
	failures int
	err      error
	calls    int
	seq      int
}

func (c *flakyCounter) PaymentNumberNext(_ context.Context, _ string) (int, error) {
	c.calls++
	if c.calls <= c.failures {
		return 0, c.err
	}
	c.seq++
	return c.seq, nil
}

func TestPrefix(t *testing.T) {
	date := time.Date(2019, 9, 23, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		nature  model.PaymentNature
		want    string
		wantErr error
	}{
		{name: "payment", nature: model.PaymentNaturePayment, want: "REG-1909"},
		{name: "refund", nature: model.PaymentNatureRefund, want: "REMB-1909"},
		{name: "unknown nature", nature: "gift", wantErr: model.ErrInvalidNature},
		{name: "empty nature", nature: "", wantErr: model.ErrInvalidNature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prefix(tt.nature, date)
			if tt.wantErr != nil {
				require.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNextNumberFirstAndSecond(t *testing.T) {
	issuer := NewIssuer(testConfig, store.NewMemStore(), zap.NewNop())
	ctx := context.Background()
	date := time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)

	first, err := issuer.NextNumber(ctx, model.PaymentNaturePayment, date)
	require.NoError(t, err)
	require.Equal(t, "REG-1909001", first.String())

	second, err := issuer.NextNumber(ctx, model.PaymentNaturePayment, date)
	require.NoError(t, err)
	require.Equal(t, "REG-1909002", second.String())

	// другой префикс - своя последовательность
	refund, err := issuer.NextNumber(ctx, model.PaymentNatureRefund, date)
	require.NoError(t, err)
	require.Equal(t, "REMB-1909001", refund.String())

	october, err := issuer.NextNumber(ctx, model.PaymentNaturePayment, date.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Equal(t, "REG-1910001", october.String())
}

func TestNextNumberConcurrent(t *testing.T) {
	issuer := NewIssuer(testConfig, store.NewMemStore(), zap.NewNop())
	ctx := context.Background()
	date := time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)

	const callers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[int]int)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := issuer.NextNumber(ctx, model.PaymentNaturePayment, date)
			assert.NoError(t, err)
			mu.Lock()
			seqs[number.Seq]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seqs, callers)
	for seq := 1; seq <= callers; seq++ {
		require.Equal(t, 1, seqs[seq], "seq %d", seq)
	}
}

func TestNextNumberRetriesContention(t *testing.T) {
	counter := &flakyCounter{failures: 2, err: errors.Mark(errors.New("40001"), model.ErrSequenceContention)}
	issuer := NewIssuer(testConfig, counter, zap.NewNop())

	number, err := issuer.NextNumber(context.Background(), model.PaymentNaturePayment, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, number.Seq)
	require.Equal(t, 3, counter.calls)
}

func TestNextNumberContentionExhausted(t *testing.T) {
	counter := &flakyCounter{failures: 10, err: errors.Mark(errors.New("40001"), model.ErrSequenceContention)}
	issuer := NewIssuer(testConfig, counter, zap.NewNop())

	_, err := issuer.NextNumber(context.Background(), model.PaymentNaturePayment, time.Now())
	require.True(t, errors.Is(err, model.ErrSequenceContention))
	require.Equal(t, 4, counter.calls)
}

func TestNextNumberPermanentError(t *testing.T) {
	counter := &flakyCounter{failures: 1, err: errors.New("connection refused")}
	issuer := NewIssuer(testConfig, counter, zap.NewNop())

	_, err := issuer.NextNumber(context.Background(), model.PaymentNaturePayment, time.Now())
	require.Error(t, err)
	require.False(t, errors.Is(err, model.ErrSequenceContention))
	require.Equal(t, 1, counter.calls)
}

func TestNextNumberInvalidNature(t *testing.T) {
	counter := &flakyCounter{}
	issuer := NewIssuer(testConfig, counter, zap.NewNop())

	_, err := issuer.NextNumber(context.Background(), "donation", time.Now())
	require.True(t, errors.Is(err, model.ErrInvalidNature))
	require.Zero(t, counter.calls)
}
