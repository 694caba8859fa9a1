package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
)

// ParserConfig configures credential verification.
type ParserConfig struct {
	Issuer     string
	Audiences  []string
	Algorithms []string
	Leeway     time.Duration
	Claims     ClaimOptions
}

// Parser decodes and verifies bearer credentials issued by the identity provider.
type Parser struct {
	keys       KeySource
	issuer     string
	audiences  []string
	algorithms []gojose.SignatureAlgorithm
	leeway     time.Duration
	claimOpts  ClaimOptions
	now        func() time.Time
}

// NewParser constructs a Parser verifying signatures against keys.
func NewParser(keys KeySource, cfg ParserConfig) *Parser {
	algs := make([]gojose.SignatureAlgorithm, 0, len(cfg.Algorithms))
	for _, alg := range cfg.Algorithms {
		algs = append(algs, gojose.SignatureAlgorithm(strings.TrimSpace(alg)))
	}
	if len(algs) == 0 {
		algs = append(algs, gojose.RS256)
	}
	return &Parser{
		keys:       keys,
		issuer:     strings.TrimRight(cfg.Issuer, "/"),
		audiences:  cfg.Audiences,
		algorithms: algs,
		leeway:     cfg.Leeway,
		claimOpts:  cfg.Claims,
		now:        time.Now,
	}
}

// ClaimOptions exposes the claim conventions the parser applies.
func (p *Parser) ClaimOptions() ClaimOptions {
	return p.claimOpts
}

// Parse verifies the credential and returns its claim set.
func (p *Parser) Parse(ctx context.Context, raw string) (domainidentity.ClaimSet, error) {
	token := strings.TrimSpace(raw)
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: expected 3 segments, got %d", domainidentity.ErrMalformedCredential, len(segments))
	}
	if _, err := decodeJSONSegment(segments[0]); err != nil {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: header: %v", domainidentity.ErrMalformedCredential, err)
	}
	payload, err := decodeJSONSegment(segments[1])
	if err != nil {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: payload: %v", domainidentity.ErrMalformedCredential, err)
	}

	parsed, err := gojwt.ParseSigned(token, p.algorithms)
	if err != nil {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: %v", domainidentity.ErrInvalidSignature, err)
	}

	key, err := p.verificationKey(ctx, parsed)
	if err != nil {
		return domainidentity.ClaimSet{}, err
	}

	var std gojwt.Claims
	if err := parsed.Claims(key.Key, &std); err != nil {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: %v", domainidentity.ErrInvalidSignature, err)
	}

	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: p.issuer, Time: p.now()}, p.leeway); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return domainidentity.ClaimSet{}, fmt.Errorf("%w: %v", domainidentity.ErrExpired, err)
		}
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: %v", domainidentity.ErrInvalidSignature, err)
	}

	if std.Expiry == nil {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: missing exp claim", domainidentity.ErrMalformedCredential)
	}

	claims := ExtractClaims(payload, p.claimOpts)
	if !p.audienceAllowed(claims.Audience) {
		return domainidentity.ClaimSet{}, fmt.Errorf("%w: audience not accepted", domainidentity.ErrInvalidSignature)
	}
	claims.Expiry = std.Expiry.Time().UTC()
	return claims, nil
}

func (p *Parser) verificationKey(ctx context.Context, parsed *gojwt.JSONWebToken) (gojose.JSONWebKey, error) {
	var kid string
	if len(parsed.Headers) > 0 {
		kid = parsed.Headers[0].KeyID
	}

	set, err := p.keys.KeySet(ctx)
	if err != nil {
		return gojose.JSONWebKey{}, fmt.Errorf("%w: load signing keys: %v", domainidentity.ErrDependencyUnavailable, err)
	}
	if key, ok := selectKey(set, kid); ok {
		return key, nil
	}

	set, err = p.keys.Refresh(ctx)
	if err != nil {
		return gojose.JSONWebKey{}, fmt.Errorf("%w: refresh signing keys: %v", domainidentity.ErrDependencyUnavailable, err)
	}
	if key, ok := selectKey(set, kid); ok {
		return key, nil
	}
	return gojose.JSONWebKey{}, fmt.Errorf("%w: unknown key id %q", domainidentity.ErrInvalidSignature, kid)
}

func selectKey(set gojose.JSONWebKeySet, kid string) (gojose.JSONWebKey, bool) {
	if kid == "" {
		if len(set.Keys) == 1 {
			return set.Keys[0], true
		}
		return gojose.JSONWebKey{}, false
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return gojose.JSONWebKey{}, false
	}
	return keys[0], true
}

func (p *Parser) audienceAllowed(audience []string) bool {
	if len(p.audiences) == 0 {
		return true
	}
	for _, want := range p.audiences {
		for _, got := range audience {
			if want == got {
				return true
			}
		}
	}
	return false
}

func decodeJSONSegment(segment string) (map[string]any, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decode json: not an object")
	}
	return out, nil
}
