package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired は保存済みトークンの有効期限切れを示す。
// 破損とは区別し、警告ログを出さずに破棄する。
var ErrTokenExpired = errors.New("session token expired")

// Claims はセッションCookieに格納するJWTのクレーム。
// SubjectにユーザーIDを、SessionIDにサーバー側セッションIDを保持する。
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenCodec はセッショントークンの署名と検証を行う。
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec はHS256で署名するTokenCodecを生成する。
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), now: time.Now}
}

// Encode はセッションIDとユーザーIDを署名済みトークンに変換する。
func (c *TokenCodec) Encode(sessionID, userID string, expiresAt time.Time) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Decode はトークンを検証してクレームを返す。
// 有効期限切れはErrTokenExpired、それ以外の不正はそのままのエラーを返す。
func (c *TokenCodec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, errors.New("session token is missing sid or sub")
	}
	return claims, nil
}
