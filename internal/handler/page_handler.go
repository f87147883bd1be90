package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/middleware"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/product"
	"github.com/hitoshi/supply/internal/route"
)

// ProductServiceInterface はページハンドラーが必要とする商品サービスのインターフェース。
type ProductServiceInterface interface {
	List(ctx context.Context, limit int) ([]*model.Product, error)
	Create(ctx context.Context, actor *model.User, in product.CreateInput) (*model.Product, error)
	Restock(ctx context.Context, actorUID, productID string, quantity int) (*model.Product, error)
	ListMovements(ctx context.Context, limit int) ([]*model.StockMovement, error)
}

// RestockRecorder は入荷数を記録するインターフェース。metrics.Collectorが実装する。
type RestockRecorder interface {
	RecordRestock(quantity int)
}

// PageHandler はストアフロントの各ページのHTTPハンドラー。
// ページはクライアントが描画するためのJSONペイロードとして返す。
// アクセス制御はルーターでAccessGuardが行い、ここでは判定しない。
type PageHandler struct {
	products ProductServiceInterface
	recorder RestockRecorder
}

// NewPageHandler はPageHandlerを生成する。recorderはnilでもよい。
func NewPageHandler(products ProductServiceInterface, recorder RestockRecorder) *PageHandler {
	return &PageHandler{products: products, recorder: recorder}
}

// pageResponse はページのAPIレスポンス。
type pageResponse struct {
	Page      string             `json:"page"`
	Warning   string             `json:"warning,omitempty"`
	User      *userResponse      `json:"user,omitempty"`
	Products  []productResponse  `json:"products,omitempty"`
	Movements []movementResponse `json:"movements,omitempty"`
}

type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Stock       int       `json:"stock"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type movementResponse struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	ActorUID    string    `json:"actor_uid"`
	CreatedAt   time.Time `json:"created_at"`
}

type createProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

type restockRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ForRoute はルート名に対応するページ表示ハンドラーを返す。
// 専用のペイロードを持たないルートはページ名と警告のみを返す。
func (h *PageHandler) ForRoute(rt route.Route) http.HandlerFunc {
	switch rt.Name {
	case route.NameHome:
		return h.Home
	case route.NameRestock:
		return h.RestockPage
	case route.NameAdmin:
		return h.Admin
	default:
		return h.simplePage(rt.Name)
	}
}

// Home は商品一覧を返す。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context(), queryLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := h.newPage(w, r, route.NameHome)
	resp.Products = toProductResponses(products)
	writeJSON(w, http.StatusOK, resp)
}

// RestockPage は補充対象を選ぶための商品一覧を返す。
// GET /restock
func (h *PageHandler) RestockPage(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context(), queryLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := h.newPage(w, r, route.NameRestock)
	resp.Products = toProductResponses(products)
	writeJSON(w, http.StatusOK, resp)
}

// Admin は最近の入荷記録を返す。
// GET /admin
func (h *PageHandler) Admin(w http.ResponseWriter, r *http.Request) {
	movements, err := h.products.ListMovements(r.Context(), queryLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := h.newPage(w, r, route.NameAdmin)
	resp.Movements = make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		resp.Movements = append(resp.Movements, movementResponse{
			ID:          m.ID,
			ProductID:   m.ProductID,
			ProductName: m.ProductName,
			Quantity:    m.Quantity,
			ActorUID:    m.ActorUID,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PageHandler) simplePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.newPage(w, r, name))
	}
}

// newPage はページ共通のペイロードを組み立てる。
// リダイレクト元で設定された警告はここで取り出して消費する。
func (h *PageHandler) newPage(w http.ResponseWriter, r *http.Request, name string) pageResponse {
	resp := pageResponse{
		Page:    name,
		Warning: middleware.PopFlashWarning(w, r),
	}
	if id := middleware.IdentityFromContext(r.Context()); id != nil {
		resp.User = toUserResponse(id)
	}
	return resp
}

// CreateProduct は商品を作成する。
// POST /create-product
func (h *PageHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor := middleware.IdentityFromContext(r.Context())
	if actor == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError("ログインが必要です。"))
		return
	}

	var req createProductRequest
	if isForm(r) {
		var err error
		req, err = createProductFromForm(r)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	p, err := h.products.Create(r.Context(), &model.User{ID: actor.UID, Email: actor.Email, Name: actor.Name}, product.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// Restock は商品の在庫を補充する。
// POST /restock
func (h *PageHandler) Restock(w http.ResponseWriter, r *http.Request) {
	actor := middleware.IdentityFromContext(r.Context())
	if actor == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError("ログインが必要です。"))
		return
	}

	var req restockRequest
	if isForm(r) {
		req.ProductID = r.PostFormValue("product_id")
		q, err := strconv.Atoi(r.PostFormValue("quantity"))
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("quantityは整数で指定してください。"))
			return
		}
		req.Quantity = q
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	p, err := h.products.Restock(r.Context(), actor.UID, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordRestock(req.Quantity)
	}

	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func isForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}

func createProductFromForm(r *http.Request) (createProductRequest, error) {
	req := createProductRequest{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
	}
	if v := r.PostFormValue("price_cents"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errInvalidField("price_cents")
		}
		req.PriceCents = n
	}
	if v := r.PostFormValue("stock"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errInvalidField("stock")
		}
		req.Stock = n
	}
	return req, nil
}

type errInvalidField string

func (e errInvalidField) Error() string {
	return string(e) + "は整数で指定してください。"
}

func toUserResponse(id *identity.Identity) *userResponse {
	return &userResponse{
		UID:      id.UID,
		Email:    id.Email,
		Name:     id.Name,
		Provider: id.Provider,
	}
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		Stock:       p.Stock,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toProductResponses(products []*model.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}
