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

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

var supportedLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// countryLocales maps countries without a usable Accept-Language header to
// a sensible default.
var countryLocales = map[string]string{
	"ID": "id",
	"ES": "es",
	"MX": "es",
	"AR": "es",
}

// I18N attaches the negotiated locale (and resolved country, when known)
// to the request context so handlers can localize error message keys.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, defaultLocale, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string, country string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return normalizeLocale(v)
	}
	if header := r.Header.Get("Accept-Language"); header != "" {
		if tags, _, err := language.ParseAcceptLanguage(header); err == nil && len(tags) > 0 {
			tag, _, conf := localeMatcher.Match(tags...)
			if conf > language.No {
				base, _ := tag.Base()
				return base.String()
			}
		}
	}
	if v, ok := countryLocales[strings.ToUpper(country)]; ok {
		return v
	}
	if country != "" {
		return "en"
	}
	if fallback != "" {
		return fallback
	}
	return "en"
}

func normalizeLocale(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return "en"
	}
	matched, _, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return "en"
	}
	base, _ := matched.Base()
	return base.String()
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ResolveCountry determines the request's country: explicit country
// headers win, then a region carried in the locale headers, then a GeoIP
// lookup of the client address. Unknown stays the empty string.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	for _, header := range []string{"X-Country-Code", "CF-IPCountry"} {
		if v := strings.TrimSpace(r.Header.Get(header)); len(v) == 2 {
			return strings.ToUpper(v)
		}
	}
	if region := regionFromLocale(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if header := r.Header.Get("Accept-Language"); header != "" {
		if region := regionFromLocale(strings.Split(header, ",")[0]); region != "" {
			return region
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
	return strings.ToUpper(country)
}

func regionFromLocale(locale string) string {
	locale = strings.TrimSpace(strings.Split(locale, ";")[0])
	if locale == "" {
		return ""
	}
	parts := strings.Split(strings.ReplaceAll(locale, "_", "-"), "-")
	if len(parts) >= 2 && len(parts[1]) == 2 {
		return strings.ToUpper(parts[1])
	}
	if strings.EqualFold(parts[0], "id") {
		return "ID"
	}
	return ""
}

// LocaleFromContext returns the negotiated locale, defaulting to English.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "en"
}
