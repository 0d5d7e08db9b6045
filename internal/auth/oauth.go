package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"

	defaultGoogleUserInfoURL   = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultFacebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email,picture"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// OAuthConfig はOAuthプロバイダーの設定。
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// oauth2Provider はx/oauth2の認可コードフローに共通する処理を持つ。
// プロバイダーごとの差分はユーザー情報レスポンスの解釈のみ。
type oauth2Provider struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
	decode      func(body []byte) (*OAuthUserInfo, error)
}

func newOAuth2Provider(name string, config OAuthConfig, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) *oauth2Provider {
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.UserInfoURL != "" {
		userInfoURL = config.UserInfoURL
	}
	return &oauth2Provider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
	}
}

// NewGoogleOAuthProvider はGoogle OAuth 2.0プロバイダーを生成する。
func NewGoogleOAuthProvider(config OAuthConfig) OAuthProvider {
	p := newOAuth2Provider(ProviderGoogle, config, endpoints.Google,
		[]string{"openid", "email", "profile"}, defaultGoogleUserInfoURL)
	p.decode = decodeGoogleUserInfo
	return p
}

// NewFacebookOAuthProvider はFacebook Loginプロバイダーを生成する。
func NewFacebookOAuthProvider(config OAuthConfig) OAuthProvider {
	p := newOAuth2Provider(ProviderFacebook, config, endpoints.Facebook,
		[]string{"email", "public_profile"}, defaultFacebookUserInfoURL)
	p.decode = decodeFacebookUserInfo
	return p
}

// GetLoginURL は認証URLを生成する。
func (p *oauth2Provider) GetLoginURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *oauth2Provider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := p.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	info, err := p.decode(body)
	if err != nil {
		return nil, err
	}
	info.Provider = p.name
	return info, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func decodeGoogleUserInfo(body []byte) (*OAuthUserInfo, error) {
	var u googleUserInfo
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}
	return &OAuthUserInfo{ProviderUserID: u.Sub, Email: u.Email, Name: u.Name, AvatarURL: u.Picture}, nil
}

// facebookUserInfo はGraph API /me のレスポンス。
type facebookUserInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func decodeFacebookUserInfo(body []byte) (*OAuthUserInfo, error) {
	var u facebookUserInfo
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}
	return &OAuthUserInfo{ProviderUserID: u.ID, Email: u.Email, Name: u.Name, AvatarURL: u.Picture.Data.URL}, nil
}

// compile-time interface check
var _ OAuthProvider = (*oauth2Provider)(nil)
