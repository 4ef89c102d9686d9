package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// CORS 写出跨域响应头并直接应答预检请求。AllowedOrigins 含 "*" 时允许任意来源。
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(cfg.AllowedOrigins, "*")
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				switch {
				case anyOrigin:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case slices.Contains(cfg.AllowedOrigins, origin):
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				if methods != "" {
					w.Header().Set("Access-Control-Allow-Methods", methods)
				}
				if headers != "" {
					w.Header().Set("Access-Control-Allow-Headers", headers)
				}
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
