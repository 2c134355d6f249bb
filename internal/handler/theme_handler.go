package handler

import (
	"net/http"
)

const themeCookie = "theme"

// ThemeHandler はUIテーマ設定のHTTPハンドラー。
// テーマはこのサービスが保持する唯一のローカル状態で、Cookieに保存する。
type ThemeHandler struct {
	cookieSecure bool
}

// NewThemeHandler はThemeHandlerを生成する。
func NewThemeHandler(cookieSecure bool) *ThemeHandler {
	return &ThemeHandler{cookieSecure: cookieSecure}
}

// Get は現在のテーマ設定を返す。未設定の場合はlight。
// GET /api/theme
func (h *ThemeHandler) Get(w http.ResponseWriter, r *http.Request) {
	theme := "light"
	if cookie, err := r.Cookie(themeCookie); err == nil && cookie.Value == "dark" {
		theme = "dark"
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
}

// themeRequest はテーマ変更リクエストのボディ。
type themeRequest struct {
	Theme string `json:"theme"`
}

// Put はテーマ設定を保存する。lightとdark以外は受け付けない。
// PUT /api/theme
func (h *ThemeHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decodeJSON(r, &req); err != nil || (req.Theme != "light" && req.Theme != "dark") {
		http.Error(w, "theme must be light or dark", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     themeCookie,
		Value:    req.Theme,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"theme": req.Theme})
}
