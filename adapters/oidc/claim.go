// 參考https://auth0.com/docs/get-started/apis/scopes/openid-connect-scopes
package oidc

type Email struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type Profile struct {
	Name       string `json:"name"`
	FamilyName string `json:"family_name"`
	GivenName  string `json:"given_name"`
	Nickname   string `json:"nickname"`
	Picture    string `json:"picture"`
}

// Identity 通過驗證的使用者，Subject 即資料的擁有者 ID
type Identity struct {
	Subject string
	Email   string
	Name    string
}

type claims struct {
	Email
	Profile
}

func (c claims) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Nickname
}
