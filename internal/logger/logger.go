package logger

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/logger/config"
)

// в лог попадает только начало тела: пакеты платежей бывают большими
const maxLoggedBody = 1024

func NewZapLog(cfg config.Config) (*zap.Logger, error) {
	// текстовый уровень -> zap.AtomicLevel
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	zapcfg := zap.NewProductionConfig()
	zapcfg.Level = lvl
	zl, err := zapcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build zap logger")
	}
	return zl, nil
}

// middleware-логер для входящих HTTP-запросов.
func RequestLogMdlw(h http.HandlerFunc, zaplog *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// тело запроса читаем и возвращаем обратно
		bodyBytes, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		zaplog.Info("got incoming HTTP request",
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("method", r.Method),
			zap.ByteString("body", truncateTo(bodyBytes, maxLoggedBody)),
		)

		wl := newResponseWriterLogger(w)

		handlerStart := time.Now()
		h(wl, r)
		handlerDuration := time.Since(handlerStart)

		zaplog.Info("send HTTP response",
			zap.Int("code", wl.statusCode),
			zap.ByteString("body", wl.body.Bytes()),
			zap.Int("length", wl.length),
			zap.Duration("duration", handlerDuration),
		)
	}
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
	length     int
	body       bytes.Buffer
}

func newResponseWriterLogger(w http.ResponseWriter) *responseWriterLogger {
	return &responseWriterLogger{ResponseWriter: w, statusCode: http.StatusOK}
}

func (wl *responseWriterLogger) WriteHeader(code int) {
	wl.statusCode = code
	wl.ResponseWriter.WriteHeader(code)
}

func (wl *responseWriterLogger) Write(b []byte) (n int, err error) {
	if room := maxLoggedBody - wl.body.Len(); room > 0 {
		wl.body.Write(truncateTo(b, room))
	}
	n, err = wl.ResponseWriter.Write(b)
	wl.length += n
	return
}

func truncateTo(b []byte, size int) []byte {
	if len(b) > size {
		return b[:size]
	}
	return b
}
