package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/querycache"
)

// ApartmentHandler は物件一覧のHTTPハンドラー。認証不要の公開リソース。
type ApartmentHandler struct {
	backend  *api.Client
	cache    *querycache.Cache
	staleFor time.Duration
}

// NewApartmentHandler はApartmentHandlerを生成する。
func NewApartmentHandler(backend *api.Client, cache *querycache.Cache, staleFor time.Duration) *ApartmentHandler {
	return &ApartmentHandler{backend: backend, cache: cache, staleFor: staleFor}
}

// List は物件一覧を返す。家賃の範囲で絞り込み、ページングに対応する。
// GET /api/apartments?page=1&min=500&max=2000
func (h *ApartmentHandler) List(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		page = "1"
	}
	minRent := r.URL.Query().Get("min")
	maxRent := r.URL.Query().Get("max")

	key := fmt.Sprintf("%s/page=%s&min=%s&max=%s", cacheKeyApartments, page, minRent, maxRent)
	result, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) (model.ApartmentPage, error) {
		query := url.Values{"page": {page}}
		if minRent != "" {
			query.Set("minRent", minRent)
		}
		if maxRent != "" {
			query.Set("maxRent", maxRent)
		}

		var page model.ApartmentPage
		err := h.backend.GetJSON(ctx, "/apartments?"+query.Encode(), &page)
		return page, err
	}, querycache.Options{StaleFor: h.staleFor})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
