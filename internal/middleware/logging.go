package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseRecorder はステータスコードと書き込んだバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterを参照できるようにする。
func (rr *responseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// started はレスポンスヘッダーが送信済みかを返す。
func (rr *responseRecorder) started() bool { return rr.status != 0 }

// statusOrOK は記録したステータスを返す。何も書き込まれていなければ200とみなす。
func (rr *responseRecorder) statusOrOK() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// NewLoggingMiddleware はリクエストごとに"http_request"ログを1件出力するミドルウェアを返す。
// 認証済みのリクエストにはuser_idを付与するため、IdentityMiddlewareの内側に配置する。
// quietPathsに一致するパスは成功時にDEBUGで記録し、ヘルスチェックやスクレイプでINFOログを埋めない。
func NewLoggingMiddleware(logger *slog.Logger, quietPaths ...string) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.statusOrOK()
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if principal := PrincipalFromContext(r.Context()); principal != nil {
				attrs = append(attrs, slog.String("user_id", principal.ID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(status, quiet[r.URL.Path]), "http_request", attrs...)
		})
	}
}

func levelForStatus(status int, quiet bool) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quiet:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
