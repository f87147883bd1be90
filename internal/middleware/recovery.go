package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicRecorder はハンドラーのpanicを記録するインターフェース。metrics.Collectorが実装する。
type PanicRecorder interface {
	RecordPanic()
}

// NewRecoveryMiddleware はハンドラーのpanicを500レスポンスに変換するミドルウェアを生成する。
// ガードやIDプロバイダー内のpanicでページが表示されることはない。
// http.ErrAbortHandlerはnet/httpの中断処理に任せるため、そのまま再送出する。
// recorderはnilでもよい。
func NewRecoveryMiddleware(recorder PanicRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				cred := CredentialFromRequest(r)
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("has_session", cred.SessionID != ""),
					slog.Bool("has_bearer", cred.BearerToken != ""),
					slog.String("stack", string(debug.Stack())),
				)
				if recorder != nil {
					recorder.RecordPanic()
				}
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
