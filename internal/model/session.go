// Package model はドメインモデルを定義する。
package model

// Session はIDプロバイダーが発行する認証済みセッションを表す。
// アプリケーションは読み取り専用のキャッシュコピーとして保持し、
// 永続化・失効管理はすべてプロバイダー側の責任とする。
type Session struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoURL"`
	// Token はプロバイダー発行のBearerトークン。
	// バックエンドへの認証付きリクエストにそのまま添付する。
	Token string `json:"-"`
}

// Role はバックエンドのユーザーレコードから導出される参考用の権限ラベル。
// UIの出し分けにのみ使用し、セキュリティ境界としては扱わない
// （権限チェックの正当性はバックエンド側が保証する）。
type Role string

const (
	// RoleUser は一般ユーザー（デフォルトロール）。
	RoleUser Role = "user"
	// RoleMember は契約承認済みの入居メンバー。
	RoleMember Role = "member"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// ParseRole は文字列をRoleに変換する。未知の値はRoleUserにフォールバックする。
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleMember:
		return RoleMember
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// ProfileUpdate はプロフィール更新で変更可能なフィールドを表す。
// nilのフィールドは変更しない。
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoURL,omitempty"`
}
