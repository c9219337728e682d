package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokenforge/internal/token/codec"
	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/pipeline"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/slogx"
)

// ValidationContext is the transient per-call state of a validation
// attempt. Created per attempt, discarded after.
type ValidationContext struct {
	// Token is the working token string. Stages may replace it (character
	// stripping, reference resolution).
	Token string

	// Kinds is the set of acceptable token kinds for this attempt.
	Kinds []domain.Kind

	// Params are resolved by the first stage.
	Params *codec.ValidationParameters

	// Principal is the decoded claims bag once the decode stage ran.
	Principal *domain.Principal

	// TokenEntryID and AuthorizationID are filled as store records are
	// resolved.
	TokenEntryID    string
	AuthorizationID string

	entry     *domain.TokenEntry
	rejection *domain.Rejection
}

// Reject records a rejection. The first writer wins; later stages observe a
// rejected context and no-op instead of overwriting it.
func (c *ValidationContext) Reject(r domain.Rejection) {
	if c.rejection == nil {
		c.rejection = &r
	}
}

// Rejected reports whether a rejection has been recorded.
func (c *ValidationContext) Rejected() bool { return c.rejection != nil }

// AcceptsKind reports whether k is among the acceptable kinds.
func (c *ValidationContext) AcceptsKind(k domain.Kind) bool {
	for _, kind := range c.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// SoleClientAssertion reports whether the only acceptable kind is a client
// assertion, which switches key resolution to the dynamic per-client path.
func (c *ValidationContext) SoleClientAssertion() bool {
	return len(c.Kinds) == 1 && c.Kinds[0] == domain.KindClientAssertion
}

// Validation stage orders. Fixed relative order; each stage is individually
// skippable by its filters.
const (
	orderResolveParameters  = 100
	orderStripCharacters    = 200
	orderResolveReference   = 300
	orderDecodeToken        = 400
	orderNormalizeScopes    = 500
	orderMapInternalClaims  = 600
	orderRestoreEntry       = 700
	orderValidatePrincipal  = 800
	orderValidateExpiration = 900
	orderValidateEntry      = 1000
	orderValidateAuthz      = 1100
)

func (e *Engine) validationDescriptors() []pipeline.Descriptor[ValidationContext] {
	notRejected := func(c *ValidationContext) bool { return !c.Rejected() }
	withPrincipal := func(c *ValidationContext) bool { return c.Principal != nil }
	notAssertion := func(c *ValidationContext) bool { return !c.SoleClientAssertion() }
	storageEnabled := func(*ValidationContext) bool { return e.tokenStorageEnabled() }
	authzEnabled := func(*ValidationContext) bool { return e.authorizationValidationEnabled() }
	lifetimeEnabled := func(c *ValidationContext) bool {
		return c.Params != nil && c.Params.ValidateLifetime
	}
	entryResolved := func(c *ValidationContext) bool { return c.TokenEntryID != "" }
	authzResolved := func(c *ValidationContext) bool { return c.AuthorizationID != "" }

	// Handlers touching the store are built through factories so a missing
	// store collaborator surfaces as a configuration error when the
	// pipeline is built, not when a token shows up.
	storeBacked := func(fn pipeline.HandlerFunc[ValidationContext]) func() (pipeline.Handler[ValidationContext], error) {
		return func() (pipeline.Handler[ValidationContext], error) {
			if e.tokenStorageEnabled() && e.opts.Store == nil {
				return nil, fmt.Errorf("%w: token storage is enabled but no store is configured", ErrConfiguration)
			}
			return fn, nil
		}
	}

	return []pipeline.Descriptor[ValidationContext]{
		{
			Name:    "resolve-validation-parameters",
			Order:   orderResolveParameters,
			Handler: pipeline.HandlerFunc[ValidationContext](e.resolveValidationParameters),
		},
		{
			Name:    "strip-disallowed-characters",
			Order:   orderStripCharacters,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, func(*ValidationContext) bool { return e.opts.AllowedCharset != "" }},
			Handler: pipeline.HandlerFunc[ValidationContext](e.stripDisallowedCharacters),
		},
		{
			Name:    "resolve-reference-token",
			Order:   orderResolveReference,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, notAssertion, storageEnabled},
			Factory: storeBacked(e.resolveReferenceToken),
		},
		{
			Name:    "decode-token",
			Order:   orderDecodeToken,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, func(c *ValidationContext) bool { return c.Principal == nil }},
			Handler: pipeline.HandlerFunc[ValidationContext](e.decodeToken),
		},
		{
			Name:    "normalize-scope-claims",
			Order:   orderNormalizeScopes,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, withPrincipal},
			Handler: pipeline.HandlerFunc[ValidationContext](e.normalizeScopeClaims),
		},
		{
			Name:    "map-internal-claims",
			Order:   orderMapInternalClaims,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, withPrincipal},
			Handler: pipeline.HandlerFunc[ValidationContext](e.mapInternalClaims),
		},
		{
			Name:    "restore-token-entry-metadata",
			Order:   orderRestoreEntry,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, withPrincipal, notAssertion, storageEnabled},
			Factory: storeBacked(e.restoreTokenEntryMetadata),
		},
		{
			Name:    "validate-principal",
			Order:   orderValidatePrincipal,
			Filters: []pipeline.Filter[ValidationContext]{notRejected},
			Handler: pipeline.HandlerFunc[ValidationContext](e.validatePrincipal),
		},
		{
			Name:    "validate-expiration",
			Order:   orderValidateExpiration,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, withPrincipal, lifetimeEnabled},
			Handler: pipeline.HandlerFunc[ValidationContext](e.validateExpiration),
		},
		{
			Name:    "validate-token-entry",
			Order:   orderValidateEntry,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, withPrincipal, notAssertion, storageEnabled, entryResolved},
			Factory: storeBacked(e.validateTokenEntry),
		},
		{
			Name:    "validate-authorization-entry",
			Order:   orderValidateAuthz,
			Filters: []pipeline.Filter[ValidationContext]{notRejected, withPrincipal, notAssertion, authzEnabled, authzResolved},
			Factory: storeBacked(e.validateAuthorizationEntry),
		},
	}
}

// resolveValidationParameters branches on the requested kinds: client
// assertions get dynamic per-client key resolution, everything else uses
// the server-wide settings. Accepting a client assertion together with any
// other kind would make the key-resolution strategy ambiguous.
func (e *Engine) resolveValidationParameters(ctx context.Context, c *ValidationContext) error {
	if c.AcceptsKind(domain.KindClientAssertion) && len(c.Kinds) > 1 {
		return fmt.Errorf("%w: client assertions cannot be combined with other token kinds", ErrConfiguration)
	}

	params := &codec.ValidationParameters{
		ClockSkew:        e.opts.ClockSkew,
		ValidateLifetime: !e.opts.DisableLifetimeValidation,
	}

	if c.SoleClientAssertion() {
		if e.opts.Store == nil {
			return fmt.Errorf("%w: client assertion validation requires an application store", ErrConfiguration)
		}
		params.KeyResolver = e.resolveClientKeys
	} else {
		params.Issuers = issuerVariants(e.opts.Issuer)
		params.SigningKeys = e.opts.SigningCredentials
		params.DecryptionKeys = e.opts.EncryptionCredentials
	}

	c.Params = params
	return nil
}

func (e *Engine) stripDisallowedCharacters(_ context.Context, c *ValidationContext) error {
	var b strings.Builder
	for _, r := range c.Token {
		if strings.ContainsRune(e.opts.AllowedCharset, r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		c.Reject(rejectionForKinds(c.Kinds))
		return nil
	}
	c.Token = b.String()
	return nil
}

// resolveReferenceToken swaps an opaque reference id for the stored
// payload. A missing entry is not an error at this stage; downstream stages
// report a uniform invalid-token error so callers cannot probe which
// reference ids exist.
func (e *Engine) resolveReferenceToken(ctx context.Context, c *ValidationContext) error {
	if codec.IsCompact(c.Token) {
		return nil
	}

	entry, err := e.opts.Store.Tokens().FindByReferenceID(ctx, c.Token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if !c.AcceptsKind(entry.Kind) {
		c.Reject(entry.Kind.InvalidRejection())
		return nil
	}
	if entry.Payload == "" {
		c.Reject(rejectionForKinds(c.Kinds))
		return nil
	}

	c.Token = entry.Payload
	c.TokenEntryID = entry.ID
	c.entry = &entry
	return nil
}

func (e *Engine) decodeToken(ctx context.Context, c *ValidationContext) error {
	if !codec.IsCompact(c.Token) {
		c.Reject(rejectionForKinds(c.Kinds))
		return nil
	}

	principal, kind, err := codec.Decode(ctx, c.Token, c.Kinds, c.Params)
	if err != nil {
		c.Reject(rejectionForDecodeError(err, c.Kinds))
		return nil
	}

	// Issuer acceptance is an explicit stage concern: the accepted set
	// carries trailing-slash variants the codec knows nothing about.
	if len(c.Params.Issuers) > 0 {
		if iss := principal.Get(domain.ClaimIssuer); iss != "" && !c.Params.AcceptsIssuer(iss) {
			c.Reject(domain.Rejection{
				Code:        kind.Policy().InvalidCode,
				Description: "The token was issued by an unknown authority.",
				URI:         domain.ErrorURI,
			})
			return nil
		}
	}

	c.Principal = principal
	return nil
}

// normalizeScopeClaims collapses legacy multi-value scope claims into the
// single space-joined representation.
func (e *Engine) normalizeScopeClaims(_ context.Context, c *ValidationContext) error {
	scopes := c.Principal.GetAll(domain.ClaimScope)
	if len(scopes) > 1 {
		c.Principal.Set(domain.ClaimScope, strings.Join(scopes, " "))
	}
	return nil
}

// mapInternalClaims backfills the internal claim surface from standard
// claims, preserving compatibility with tokens minted before the internal
// claims existed.
func (e *Engine) mapInternalClaims(_ context.Context, c *ValidationContext) error {
	p := c.Principal

	if p.CreationDate().IsZero() {
		if iat, ok := unixClaim(p.Get(domain.ClaimIssuedAt)); ok {
			p.SetCreationDate(iat)
		}
	}
	if p.ExpirationDate().IsZero() {
		if exp, ok := unixClaim(p.Get(domain.ClaimExpiresAt)); ok {
			p.SetExpirationDate(exp)
		}
	}
	if len(p.Audiences()) == 0 {
		if aud := p.GetAll(domain.ClaimAudience); len(aud) > 0 {
			p.SetAudiences(aud...)
		}
	}
	if len(p.Presenters()) == 0 {
		presenter := p.Get(domain.ClaimAuthorizedPty)
		if presenter == "" {
			presenter = p.Get(domain.ClaimClientID)
		}
		if presenter != "" {
			p.SetPresenters(presenter)
		}
	}
	if len(p.Scopes()) == 0 {
		if scope := p.Get(domain.ClaimScope); scope != "" {
			p.SetScopes(strings.Fields(scope)...)
		}
	}
	return nil
}

// restoreTokenEntryMetadata overwrites token-borne dates and identifiers
// with the authoritative store record. A principal without a token id means
// storage was off at issuance, which is not an error.
func (e *Engine) restoreTokenEntryMetadata(ctx context.Context, c *ValidationContext) error {
	id := c.TokenEntryID
	if id == "" {
		id = c.Principal.TokenID()
	}
	if id == "" {
		return nil
	}

	entry := c.entry
	if entry == nil || entry.ID != id {
		found, err := e.opts.Store.Tokens().FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.Reject(c.Principal.Kind().InvalidRejection())
				return nil
			}
			return err
		}
		entry = &found
	}

	p := c.Principal
	if !entry.CreatedAt.IsZero() {
		p.SetCreationDate(entry.CreatedAt)
	}
	if !entry.ExpiresAt.IsZero() {
		p.SetExpirationDate(entry.ExpiresAt)
	}
	if entry.AuthorizationID != "" {
		p.SetAuthorizationID(entry.AuthorizationID)
	}
	p.SetKind(entry.Kind)
	p.SetTokenID(entry.ID)

	c.entry = entry
	c.TokenEntryID = entry.ID
	c.AuthorizationID = entry.AuthorizationID
	return nil
}

func (e *Engine) validatePrincipal(_ context.Context, c *ValidationContext) error {
	if c.Principal == nil {
		c.Reject(rejectionForKinds(c.Kinds))
		return nil
	}

	kind := c.Principal.Kind()
	if !kind.Known() || !c.AcceptsKind(kind) {
		// The decode stage already filtered tags, so reaching this point
		// with an unacceptable kind signals a codec or filter bug.
		return fmt.Errorf("%w: resolved kind %s is not among the acceptable kinds", ErrInvariant, kind)
	}
	return nil
}

func (e *Engine) validateExpiration(_ context.Context, c *ValidationContext) error {
	exp := c.Principal.ExpirationDate()
	if exp.IsZero() {
		return nil
	}
	if e.now().After(exp.Add(c.Params.ClockSkew)) {
		c.Reject(c.Principal.Kind().ExpiredRejection())
	}
	return nil
}

// validateTokenEntry checks the authoritative status of the store record
// and hosts the replay guard for redeemed entries.
func (e *Engine) validateTokenEntry(ctx context.Context, c *ValidationContext) error {
	entry := c.entry
	if entry == nil {
		found, err := e.opts.Store.Tokens().FindByID(ctx, c.TokenEntryID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.Reject(c.Principal.Kind().InvalidRejection())
				return nil
			}
			return err
		}
		entry = &found
	}

	kind := c.Principal.Kind()

	switch entry.Status {
	case domain.TokenStatusValid:
		return nil

	case domain.TokenStatusRedeemed:
		if kind == domain.KindRefreshToken && e.withinReuseLeeway(entry) {
			slogx.FromContext(ctx).Debug("accepting refresh token redeemed within the reuse leeway",
				"token_id", entry.ID)
			return nil
		}
		// Possible replay: cascade-revoke the whole token family. The
		// cascade is defense in depth, never part of the accept/reject
		// decision, so failures are logged and swallowed.
		e.revokeTokenFamily(ctx, entry.AuthorizationID)
		c.Reject(kind.InvalidRejection())
		return nil

	case domain.TokenStatusInactive:
		// Device or user code awaiting end-user approval.
		c.Reject(domain.PendingRejection())
		return nil

	case domain.TokenStatusRejected:
		c.Reject(domain.AccessDeniedRejection())
		return nil

	default:
		c.Reject(kind.ExpiredRejection())
		return nil
	}
}

func (e *Engine) withinReuseLeeway(entry *domain.TokenEntry) bool {
	if e.opts.ReuseLeeway <= 0 || entry.RedeemedAt == nil {
		return false
	}
	return e.now().Sub(*entry.RedeemedAt) <= e.opts.ReuseLeeway
}

// validateAuthorizationEntry gates the token on its authorization still
// being valid. Only the presented token is rejected here; the authorization
// itself is left untouched so a fresh grant can still be started.
func (e *Engine) validateAuthorizationEntry(ctx context.Context, c *ValidationContext) error {
	authz, err := e.opts.Store.Authorizations().FindByID(ctx, c.AuthorizationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Reject(c.Principal.Kind().InvalidRejection())
			return nil
		}
		return err
	}

	if authz.Status != domain.AuthorizationStatusValid {
		c.Reject(c.Principal.Kind().InvalidRejection())
	}
	return nil
}

// rejectionForKinds returns the kind-specific invalid rejection when the
// attempt accepts exactly one kind, and the uniform fallback otherwise.
func rejectionForKinds(kinds []domain.Kind) domain.Rejection {
	if len(kinds) == 1 {
		return kinds[0].InvalidRejection()
	}
	return domain.GenericInvalidToken()
}

func rejectionForDecodeError(err error, kinds []domain.Kind) domain.Rejection {
	switch {
	case errors.Is(err, codec.ErrInvalidType):
		return rejectionForKinds(kinds)
	case errors.Is(err, codec.ErrInvalidIssuer):
		return domain.Rejection{
			Code:        domain.ErrorCodeInvalidClient,
			Description: "The client assertion cannot be validated.",
			URI:         domain.ErrorURI,
		}
	case errors.Is(err, codec.ErrSignatureKeyNotFound):
		return domain.Rejection{
			Code:        domain.ErrorCodeInvalidToken,
			Description: "No suitable key could be found to validate the token signature.",
			URI:         domain.ErrorURI,
		}
	case errors.Is(err, codec.ErrInvalidSignature):
		return domain.Rejection{
			Code:        domain.ErrorCodeInvalidToken,
			Description: "The token signature is invalid.",
			URI:         domain.ErrorURI,
		}
	default:
		return rejectionForKinds(kinds)
	}
}

func unixClaim(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}
