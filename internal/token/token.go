package token

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/homecare/internal/token/config"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims - компания-кредитор, от имени которой работает оператор
type Claims struct {
	jwt.RegisteredClaims
	Company string `json:"company"`
}

type Token struct {
	cfg config.Config
}

func NewToken(cfg config.Config) *Token {
	return &Token{cfg: cfg}
}

// BuildJWTString создает токен для компании
func (t *Token) BuildJWTString(company string) (string, error) {
	if company == "" {
		return "", errors.Wrap(ErrInvalidToken, "empty company")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.cfg.TTL)),
		},
		Company: company,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.cfg.Secret))
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// GetCompany проверяет подпись и срок и возвращает компанию
func (t *Token) GetCompany(tokenString string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(t.cfg.Secret), nil
	})
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "parse token"), ErrInvalidToken)
	}
	if !parsed.Valid || claims.Company == "" {
		return "", ErrInvalidToken
	}
	return claims.Company, nil
}
