package auth

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	CompanyKey         = "homecareCompany"
	cookieCompanyToken = "homecareToken"
	bearerPrefix       = "Bearer "
)

var errNoToken = errors.New("no auth token")

type Verifier interface {
	GetCompany(tokenString string) (string, error)
}

type Auth interface {
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

type auth struct {
	verifier Verifier
	zaplog   *zap.Logger
}

func NewAuth(verifier Verifier, zaplog *zap.Logger) Auth {
	return &auth{verifier: verifier, zaplog: zaplog}
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// компания из токена
		company, err := a.getCompany(r)
		if err != nil {
			a.zaplog.Debug("unauthorized request", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		// записываем. Значение от клиента затирается
		r.Header.Set(CompanyKey, company)

		h.ServeHTTP(w, r)
	}
}

func (a *auth) getCompany(r *http.Request) (string, error) {
	// сначала заголовок, затем куки
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return a.verifier.GetCompany(strings.TrimPrefix(header, bearerPrefix))
	}
	tokenCookie, err := r.Cookie(cookieCompanyToken)
	if err != nil {
		return "", errNoToken
	}
	return a.verifier.GetCompany(tokenCookie.Value)
}
