package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"telethu/global/config"
	"telethu/tools/errs"
)

// —— context key ——
// 后续模块统一用这俩 key 读取
const (
	CtxUserIDKey  = "authUserId"  // int64
	CtxSessionKey = "authSession" // string
)

// Claims 网关只认这份：身份签发在外部，这里只校验和取身份
type Claims struct {
	UserID  int64  `json:"userId"`
	Session string `json:"session,omitempty"`
	jwt.RegisteredClaims
}

type Options struct {
	HeaderToken               string // 默认 "Authorization"
	QueryToken                string // websocket 握手带不了自定义头，默认兼容 ?token=
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "Authorization",
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
	}
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if opts.EnableAuthorizationBearer && strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" && opts.QueryToken != "" {
			token = strings.TrimSpace(c.Query(opts.QueryToken))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenMissing)
			return
		}

		claims, err := ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired.WithDetail(err.Error()))
			return
		}

		c.Set(CtxUserIDKey, claims.UserID)
		if claims.Session != "" {
			c.Set(CtxSessionKey, claims.Session)
		}
		c.Next()
	}
}

// ParseToken 校验签名和过期，返回 claims
func ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	tk, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return config.GetJwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if !tk.Valid || claims.UserID == 0 {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// UserID 从 gin context 取当前登录用户
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
