package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

// supportedLocales are the locales failure messages and captions are rendered
// in. The first entry is the last-resort fallback.
var supportedLocales = []language.Tag{language.English, language.Indonesian}

var localeMatcher = language.NewMatcher(supportedLocales)

// countryLocales maps a country onto its default supported locale. Countries
// not listed resolve to English.
var countryLocales = map[string]string{
	"ID": "id",
}

// countryHeaders are set by CDNs and load balancers in front of the API.
var countryHeaders = []string{"CF-IPCountry", "X-Country-Code", "X-Appengine-Country"}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// I18N stores the request locale and best-effort country on the context.
// Precedence is X-Locale, then Accept-Language, then the caller's country,
// then defaultLocale.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	fallback := normalizeLocale(defaultLocale)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := resolveCountry(r, lookup)
			locale := detectLocale(r, fallback, country)

			ctx := context.WithValue(r.Context(), localeContextKey{}, locale)
			if country != "" {
				ctx = context.WithValue(ctx, countryContextKey{}, country)
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback, country string) string {
	if locale, ok := matchHeader(r.Header.Get("X-Locale")); ok {
		return locale
	}
	if locale, ok := matchHeader(r.Header.Get("Accept-Language")); ok {
		return locale
	}
	if country != "" {
		if locale, ok := countryLocales[country]; ok {
			return locale
		}
		return supportedLocales[0].String()
	}
	if fallback != "" {
		return fallback
	}
	return supportedLocales[0].String()
}

// matchHeader reports a supported locale only when the header names one we
// actually serve; an unrelated language falls through to the next source.
func matchHeader(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		return "", false
	}
	return supportedLocales[idx].String(), true
}

func normalizeLocale(raw string) string {
	if locale, ok := matchHeader(raw); ok {
		return locale
	}
	return supportedLocales[0].String()
}

func resolveCountry(r *http.Request, lookup CountryLookup) string {
	for _, key := range countryHeaders {
		if v := strings.ToUpper(strings.TrimSpace(r.Header.Get(key))); len(v) == 2 && v != "XX" {
			return v
		}
	}
	if lookup == nil {
		return ""
	}
	ip := ClientIP(r)
	if ip == "" {
		return ""
	}
	country, err := lookup(ip)
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(country))
}

// ClientIP returns the host part of RemoteAddr, which RealIP has already
// rewritten from forwarding headers.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LocaleFromContext returns the request locale, or English outside a request.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeContextKey{}).(string); ok {
		return v
	}
	return supportedLocales[0].String()
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(countryContextKey{}).(string); ok {
		return v
	}
	return ""
}
