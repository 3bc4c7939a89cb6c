package server

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "movesync-server"

// Claims 会话 Token 的载荷
type Claims struct {
	ActorID uint32 `json:"actor_id"`
	jwt.RegisteredClaims
}

// TokenSigner 签发与校验重连用的会话 Token
type TokenSigner struct {
	key []byte
	ttl time.Duration
}

// NewTokenSigner secret 为空时读取环境变量 MOVESYNC_JWT_SECRET，仍为空则使用开发密钥
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if secret == "" {
		secret = os.Getenv("MOVESYNC_JWT_SECRET")
	}
	if secret == "" {
		// 开发环境默认密钥，生产环境应设置环境变量
		secret = "movesync-dev-secret-change-in-production"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenSigner{key: []byte(secret), ttl: ttl}
}

// GenerateSessionToken 生成会话 Token
func (s *TokenSigner) GenerateSessionToken(actorID uint32) (string, error) {
	now := time.Now()
	claims := Claims{
		ActorID: actorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   fmt.Sprintf("actor-%d", actorID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// VerifySessionToken 验证并解析 Token，返回角色编号
func (s *TokenSigner) VerifySessionToken(tokenString string) (uint32, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token 签名算法不符: %v", token.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return 0, fmt.Errorf("解析 token 失败: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.ActorID, nil
	}
	return 0, fmt.Errorf("token 无效")
}
