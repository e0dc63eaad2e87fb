package config

import "net/http"

// ToCookie renders the template with the given value.
func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: ct.sameSite(),
	}
}

// ToExpiredCookie returns a cookie that makes the browser drop the one
// created from the same template.
func (ct *CookieTemplate) ToExpiredCookie() *http.Cookie {
	c := ct.ToCookie("")
	c.MaxAge = -1

	return c
}

func (ct *CookieTemplate) sameSite() http.SameSite {
	switch ct.SameSite {
	case CookieSameSiteNone:
		return http.SameSiteNoneMode
	case CookieSameSiteLax:
		return http.SameSiteLaxMode
	case CookieSameSiteStrict:
		return http.SameSiteStrictMode
	default:
		return http.SameSiteDefaultMode
	}
}
