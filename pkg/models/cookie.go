package models

// SameSite is a normalized cookie SameSite policy. The empty value means unset.
type SameSite string

const (
	SameSiteUnset  SameSite = ""
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// Cookie is a credential entry the browser engine accepts
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain,omitempty"`
	Path     string   `json:"path,omitempty"`
	Expires  *float64 `json:"expires,omitempty"` // seconds since epoch
	Secure   bool     `json:"secure,omitempty"`
	HTTPOnly bool     `json:"httpOnly,omitempty"`
	Session  bool     `json:"session,omitempty"`
	SameSite SameSite `json:"sameSite,omitempty"`
}
