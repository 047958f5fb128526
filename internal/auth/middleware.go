package auth

import (
	"log/slog"
	"net/http"

	loggerpkg "SonicPilot/pkg/logger"
)

// MiddlewareConfig 配置身份中间件的行为。
type MiddlewareConfig struct {
	// Optional 为真时允许匿名请求通过，handler 自行处理缺失的身份。
	Optional bool
	Audit    *slog.Logger
}

// Middleware 解析网关透传的身份并写入请求上下文。
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	audit := cfg.Audit
	if audit == nil {
		audit = loggerpkg.Audit()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := SubjectFromRequest(r)
			if err != nil {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}
