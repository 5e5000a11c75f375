package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ストリーム用トークンの有効期間
const streamTokenTTL = 5 * time.Minute

// Claims はストリーム用トークンのクレーム
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Auth はAPIの認証を行う。secretが空なら認証しない
type Auth struct {
	secret string
	now    func() time.Time
}

// NewAuth は新しいAuthを作成する
func NewAuth(secret string) *Auth {
	return &Auth{secret: secret, now: time.Now}
}

// Enabled は認証が有効かどうかを返す
func (a *Auth) Enabled() bool {
	return a.secret != ""
}

// Middleware はAuthorizationヘッダーかtokenクエリを検証する
//
// クエリでは固定トークンの代わりにストリーム用トークンも受け付ける。
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "認証トークンがありません")
			return
		}

		if !a.matchesSecret(token) {
			if err := a.VerifyStreamToken(token); err != nil {
				abortWithError(c, http.StatusUnauthorized, "invalid_token", "認証トークンが無効です")
				return
			}
		}
		c.Next()
	}
}

// matchesSecret は固定トークンと一致するかを一定時間で比較する
func (a *Auth) matchesSecret(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// GenerateStreamToken はブラウザの<img>やWebSocketから使う短命のトークンを作る
func (a *Auth) GenerateStreamToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(streamTokenTTL)
	claims := Claims{
		Scope: "stream",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(a.secret))
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "トークンの署名に失敗")
	}
	return ss, expires, nil
}

// VerifyStreamToken はストリーム用トークンを検証する
func (a *Auth) VerifyStreamToken(tokenString string) error {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return errors.Wrap(err, "トークンの解析に失敗")
	}
	if !token.Valid || claims.Scope != "stream" {
		return errors.New("トークンが無効です")
	}
	return nil
}
