package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/querycache"
)

// AnnouncementHandler はお知らせ閲覧のHTTPハンドラー。セッション必須。
type AnnouncementHandler struct {
	secure   *api.SecureClient
	cache    *querycache.Cache
	staleFor time.Duration
}

// NewAnnouncementHandler はAnnouncementHandlerを生成する。
func NewAnnouncementHandler(secure *api.SecureClient, cache *querycache.Cache, staleFor time.Duration) *AnnouncementHandler {
	return &AnnouncementHandler{secure: secure, cache: cache, staleFor: staleFor}
}

// List はお知らせ一覧を返す。
// GET /api/announcements
func (h *AnnouncementHandler) List(w http.ResponseWriter, r *http.Request) {
	announcements, err := querycache.ReadAs(r.Context(), h.cache, cacheKeyAnnouncements, func(ctx context.Context) ([]model.Announcement, error) {
		var list []model.Announcement
		err := h.secure.GetJSON(ctx, "/announcements", &list)
		return list, err
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, announcements)
}
