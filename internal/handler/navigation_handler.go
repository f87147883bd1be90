package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/middleware"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/route"
)

// NavigatorInterface はクライアントごとのナビゲーション判定のインターフェース。
// guard.Navigatorが実装する。
type NavigatorInterface interface {
	Navigate(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error)
}

// SupersededRecorder は破棄されたナビゲーションを記録するインターフェース。
type SupersededRecorder interface {
	RecordSuperseded()
}

// NavigationHandler はクライアントルーター向けのルートテーブルと
// ナビゲーション判定のHTTPハンドラー。
type NavigationHandler struct {
	table     *route.Table
	navigator NavigatorInterface
	recorder  SupersededRecorder
}

// NewNavigationHandler はNavigationHandlerを生成する。recorderはnilでもよい。
func NewNavigationHandler(table *route.Table, navigator NavigatorInterface, recorder SupersededRecorder) *NavigationHandler {
	return &NavigationHandler{
		table:     table,
		navigator: navigator,
		recorder:  recorder,
	}
}

type navigateRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
}

type navigateResponse struct {
	Outcome  guard.Outcome `json:"outcome"`
	Redirect string        `json:"redirect,omitempty"`
	Warning  string        `json:"warning,omitempty"`
}

// Routes はルートテーブルを返す。
// GET /api/routes
func (h *NavigationHandler) Routes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": h.table.Routes(),
	})
}

// Navigate はクライアント側の遷移を判定する。
// POST /api/navigate
// 遷移先がルートテーブルにない場合はガードを実行せずに404を返す。
// 同じクライアントの新しい遷移に追い越された場合は409を返し、判定は返さない。
func (h *NavigationHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}
	if req.To == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("遷移先(to)が指定されていません。"))
		return
	}

	target, err := h.table.Lookup(req.To)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownRouteError(req.To))
		return
	}

	var source route.Route
	if req.From != "" {
		// 遷移元が不明でも判定には影響しない
		source, _ = h.table.Lookup(req.From)
	}

	d, err := h.navigator.Navigate(r.Context(), middleware.NavigationKey(r), guard.NavigationRequest{
		Target:     target,
		Source:     source,
		Credential: middleware.CredentialFromContext(r.Context()),
	})
	if errors.Is(err, guard.ErrSuperseded) {
		if h.recorder != nil {
			h.recorder.RecordSuperseded()
		}
		slog.Info("navigation superseded",
			slog.String("to", target.Path),
			slog.String("from", source.Path),
		)
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewNavigationSupersededError())
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if d.Warning != "" {
		w.Header().Set(middleware.NavigationWarningHeader, d.Warning)
	}
	writeJSON(w, http.StatusOK, navigateResponse{
		Outcome:  d.Outcome,
		Redirect: d.Redirect,
		Warning:  d.Warning,
	})
}
