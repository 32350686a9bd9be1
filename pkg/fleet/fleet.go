// Package fleet is a minimal client for the Fleet API endpoints this service
// consumes: the product list and energy-site charge telemetry. Clients are
// constructed per request from a freshly minted access token.
package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrFetch wraps network and decode failures on Fleet API calls. Fetches are
// attempted exactly once; callers surface the failure rather than retry.
var ErrFetch = errors.New("fleet API fetch failed")

// HTTPError is returned when the Fleet API responds with a non-200 status.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fleet API returned %s", http.StatusText(e.Code))
	}
	return fmt.Sprintf("fleet API returned %d: %s", e.Code, e.Message)
}

const defaultDomain = "fleet-api.prd.na.vn.cloud.tesla.com"

// We're mostly interested in stopping paths; the http package handles the rest.
var domainRegEx = regexp.MustCompile(`^[A-Za-z0-9-.]+$`)

func validTeslaDomainSuffix(domain string) bool {
	return strings.HasSuffix(domain, ".tesla.com") || strings.HasSuffix(domain, ".tesla.cn") || strings.HasSuffix(domain, ".teslamotors.com")
}

func buildUserAgent(app string) string {
	const library = "wallcharge"
	if app != "" {
		return fmt.Sprintf("%s %s", app, library)
	}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}
	app = path[len(path)-1]
	if build.Main.Version != "" && build.Main.Version != "(devel)" {
		app = fmt.Sprintf("%s/%s", app, build.Main.Version)
	}
	return fmt.Sprintf("%s %s", app, library)
}

// Client issues bearer-authenticated requests against a regional Fleet API
// host. The host is derived from the access token's audience claims.
type Client struct {
	// The default UserAgent is derived from build info, but can be overridden.
	UserAgent  string
	Host       string
	Subject    string
	authHeader string
	client     http.Client
}

// The only claims we care about identify the regional API server and the
// account; the token is verified upstream, not by us.
type tokenClaims struct {
	Audience jwt.ClaimStrings `json:"aud,omitempty"`
	OUCode   string           `json:"ou_code,omitempty"`
	Subject  string           `json:"sub,omitempty"`
}

func (c *tokenClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *tokenClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c *tokenClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *tokenClaims) GetIssuer() (string, error)                   { return "", nil }
func (c *tokenClaims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c *tokenClaims) GetAudience() (jwt.ClaimStrings, error)       { return c.Audience, nil }

func (c *tokenClaims) domain() string {
	domain := defaultDomain
	ouCodeMatch := fmt.Sprintf(".%s.", strings.ToLower(c.OUCode))
	for _, audience := range c.Audience {
		if strings.HasPrefix(audience, "https://auth.tesla.") {
			continue
		}
		d, _ := strings.CutPrefix(audience, "https://")
		d, _ = strings.CutSuffix(d, "/")
		if !domainRegEx.MatchString(d) {
			continue
		}
		if validTeslaDomainSuffix(d) && strings.HasPrefix(d, "fleet-api.") {
			domain = d
			// Prefer the domain matching the token's region code.
			if strings.Contains(domain, ouCodeMatch) {
				return domain
			}
		}
	}
	return domain
}

// New returns a Client authorized by accessToken. The regional API host is
// read from the token's audience list without verifying the signature; the
// server performs its own verification on every call.
func New(accessToken, userAgent string) (*Client, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(accessToken), &claims); err != nil {
		return nil, fmt.Errorf("malformed access token: %w", err)
	}
	return &Client{
		UserAgent:  buildUserAgent(userAgent),
		Host:       claims.domain(),
		Subject:    claims.Subject,
		authHeader: "Bearer " + strings.TrimSpace(accessToken),
	}, nil
}

type responseEnvelope struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}
