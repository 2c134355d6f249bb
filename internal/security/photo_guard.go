package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// PhotoURLGuard はプロフィール画像URLの検証機能のインターフェースを定義する。
// プロフィール更新時、ユーザーが指定した画像URLを保存する前に使用される。
type PhotoURLGuard interface {
	// Validate は画像URLの安全性を検証する。
	// スキーム、ホスト、IPアドレスの静的検証を行い、到達性プローブが
	// 有効な場合はSSRF防止付きクライアントでHEADリクエストを送る。
	Validate(ctx context.Context, rawURL string) error
}

// allowedSchemes は画像URLで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースし、Validateでの静的検証に使用する。
// 到達性プローブ側はsafeurlがnet.DialerレベルでDNS解決後のIPアドレスも
// 検証するため、DNS再バインディング攻撃にも対応している。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// photoURLGuard はPhotoURLGuardの実装。
type photoURLGuard struct {
	probeClient *http.Client
}

// NewPhotoURLGuard はPhotoURLGuardの新しいインスタンスを生成する。
// probeをtrueにすると、静的検証に加えてSSRF防止付きクライアントで
// HEADリクエストを送り、URLの到達性を確認する。
// safeurlのクライアントにより以下がブロックされる:
//   - プライベートIPアドレス (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)
//   - ループバックアドレス (127.0.0.0/8, ::1)
//   - リンクローカルアドレス (169.254.0.0/16, fe80::/10)
//   - メタデータIPアドレス (169.254.169.254)
func NewPhotoURLGuard(probe bool, timeout time.Duration) *photoURLGuard {
	g := &photoURLGuard{}
	if probe {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes(allowedSchemes...).
			SetAllowedPorts(80, 443).
			Build()
		g.probeClient = safeurl.Client(config).Client
	}
	return g
}

// Validate は画像URLの安全性を検証する。
func (g *photoURLGuard) Validate(ctx context.Context, rawURL string) error {
	if err := g.validateStatic(rawURL); err != nil {
		return err
	}
	if g.probeClient == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := g.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("photo URL unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("photo URL returned status %d", resp.StatusCode)
	}
	return nil
}

// validateStatic はDNS解決を伴わない静的な検証を行う。
func (g *photoURLGuard) validateStatic(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// スキーム検証: http/httpsのみ許可
	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	// ホスト検証: 空ホストを拒否
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	// IPアドレスの場合: ブロック対象CIDRとの照合
	ip := net.ParseIP(host)
	if ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	// ホスト名の場合: localhost等の危険なホスト名を拒否
	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
}

// isBlockedHostname はホスト名がブロック対象かを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
