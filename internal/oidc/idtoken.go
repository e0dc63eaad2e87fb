package oidc

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

const (
	DefaultKeySetTTL = time.Hour
	DefaultLeeway    = time.Minute
)

var defaultSigningAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// Claims are the user attributes kept from the ID token.
type Claims struct {
	Issuer     string   `json:"iss,omitempty"`
	Subject    string   `json:"sub,omitempty"`
	Email      string   `json:"email,omitempty"`
	Name       string   `json:"name,omitempty"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Picture    string   `json:"picture,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

type customClaims struct {
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Picture    string   `json:"picture"`
	Groups     []string `json:"groups"`
	AtHash     string   `json:"at_hash,omitempty"`
}

type DecoderConfig struct {
	Issuer   string
	ClientID string
	JwksURI  string
	Algs     []string
	// KeySetTTL bounds how long a fetched key set is reused.
	KeySetTTL time.Duration
}

// IDTokenDecoder reads the claims of the ID token returned by the token endpoint.
type IDTokenDecoder struct {
	issuer   string
	clientID string
	jwksURI  string
	algs     []jose.SignatureAlgorithm
	client   *http.Client
	keySets  *cache.Cache
	now      func() time.Time
}

func NewIDTokenDecoder(cfg DecoderConfig, httpClient *http.Client) *IDTokenDecoder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ttl := cfg.KeySetTTL
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}

	algs := make([]jose.SignatureAlgorithm, 0, len(cfg.Algs))
	for _, alg := range cfg.Algs {
		algs = append(algs, jose.SignatureAlgorithm(alg))
	}
	if len(algs) == 0 {
		algs = defaultSigningAlgs
	}

	return &IDTokenDecoder{
		issuer:   cfg.Issuer,
		clientID: cfg.ClientID,
		jwksURI:  cfg.JwksURI,
		algs:     algs,
		client:   httpClient,
		keySets:  cache.New(ttl, 2*ttl),
		now:      time.Now,
	}
}

// Verifies reports whether signatures are checked against the provider key set.
func (d *IDTokenDecoder) Verifies() bool {
	return d.jwksURI != ""
}

// Decode parses the ID token. Without a JWKS URI the claims are read
// unverified, which is only acceptable for display purposes.
// An empty token yields empty claims.
func (d *IDTokenDecoder) Decode(ctx context.Context, rawIDToken, accessToken string) (Claims, error) {
	if rawIDToken == "" {
		return Claims{}, nil
	}

	token, err := jwt.ParseSigned(rawIDToken, d.algs)
	if err != nil {
		return Claims{}, fmt.Errorf("parsing id token: %w", err)
	}

	var standard jwt.Claims
	var custom customClaims
	if d.Verifies() {
		keySet, err := d.keySet(ctx)
		if err != nil {
			return Claims{}, err
		}
		if err := token.Claims(keySet, &standard, &custom); err != nil {
			return Claims{}, fmt.Errorf("verifying id token: %w", err)
		}

		expected := jwt.Expected{Issuer: d.issuer, Time: d.now()}
		if d.clientID != "" {
			expected.AnyAudience = jwt.Audience{d.clientID}
		}
		if err := standard.ValidateWithLeeway(expected, DefaultLeeway); err != nil {
			return Claims{}, fmt.Errorf("validating id token claims: %w", err)
		}
	} else {
		slogctx.Warn(ctx, "Reading ID token claims without signature verification; configure a JWKS URI")
		if err := token.UnsafeClaimsWithoutVerification(&standard, &custom); err != nil {
			return Claims{}, fmt.Errorf("reading id token claims: %w", err)
		}
	}

	if custom.AtHash != "" && accessToken != "" {
		if err := verifyAccessToken(accessToken, custom.AtHash, token.Headers[0].Algorithm); err != nil {
			return Claims{}, err
		}
	}

	return Claims{
		Issuer:     standard.Issuer,
		Subject:    standard.Subject,
		Email:      custom.Email,
		Name:       custom.Name,
		GivenName:  custom.GivenName,
		FamilyName: custom.FamilyName,
		Picture:    custom.Picture,
		Groups:     custom.Groups,
	}, nil
}

func (d *IDTokenDecoder) keySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	if cached, ok := d.keySets.Get(d.jwksURI); ok {
		//nolint:forcetypeassert
		return cached.(*jose.JSONWebKeySet), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating a new HTTP request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing an http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching keyset failed with status: %d", resp.StatusCode)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("decoding keyset response: %w", err)
	}

	d.keySets.SetDefault(d.jwksURI, &keySet)

	return &keySet, nil
}

func verifyAccessToken(accessToken, atHash, alg string) error {
	var h hash.Hash
	switch alg {
	case "RS256", "ES256", "PS256":
		h = sha256.New()
	case "RS384", "ES384", "PS384":
		h = sha512.New384()
	case "RS512", "ES512", "PS512", "EdDSA":
		h = sha512.New()
	default:
		return fmt.Errorf("oidc: unsupported signing algorithm %q", alg)
	}

	h.Write([]byte(accessToken)) // NOSONAR
	sum := h.Sum(nil)[:h.Size()/2]
	if base64.RawURLEncoding.EncodeToString(sum) != atHash {
		return serviceerr.ErrInvalidAtHash
	}

	return nil
}
