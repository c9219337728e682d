package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/tokenforge/internal/token/codec"
	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/pipeline"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/cryptox"
	"github.com/aussiebroadwan/tokenforge/pkg/idx"
	"github.com/aussiebroadwan/tokenforge/pkg/slogx"
)

// GenerationContext is the transient per-call state of a generation run.
type GenerationContext struct {
	Kind      domain.Kind
	Principal *domain.Principal

	// Signing and Encryption are selected by the credential stage.
	Signing    domain.Credential
	Encryption *domain.Credential

	// Token is the wire-ready output: the protected compact token, or the
	// opaque reference id for reference-delivered kinds.
	Token string

	// Reference reports whether Token is a reference id rather than the
	// protected payload.
	Reference bool

	// EntryID is the store record id, when storage is enabled.
	EntryID string

	entry *domain.TokenEntry
}

// Generation stage orders.
const (
	orderAttachCredentials = 100
	orderCreateEntry       = 200
	orderEncodeToken       = 300
	orderAttachPayload     = 400
)

func (e *Engine) generationDescriptors() []pipeline.Descriptor[GenerationContext] {
	storageEnabled := func(*GenerationContext) bool { return e.tokenStorageEnabled() }

	storeBacked := func(fn pipeline.HandlerFunc[GenerationContext]) func() (pipeline.Handler[GenerationContext], error) {
		return func() (pipeline.Handler[GenerationContext], error) {
			if e.tokenStorageEnabled() && e.opts.Store == nil {
				return nil, fmt.Errorf("%w: token storage is enabled but no store is configured", ErrConfiguration)
			}
			return fn, nil
		}
	}

	return []pipeline.Descriptor[GenerationContext]{
		{
			Name:    "attach-credentials",
			Order:   orderAttachCredentials,
			Handler: pipeline.HandlerFunc[GenerationContext](e.attachCredentials),
		},
		{
			Name:    "create-token-entry",
			Order:   orderCreateEntry,
			Filters: []pipeline.Filter[GenerationContext]{storageEnabled},
			Factory: storeBacked(e.createTokenEntry),
		},
		{
			Name:    "encode-token",
			Order:   orderEncodeToken,
			Filters: []pipeline.Filter[GenerationContext]{func(c *GenerationContext) bool { return c.Token == "" }},
			Handler: pipeline.HandlerFunc[GenerationContext](e.encodeToken),
		},
		{
			Name:    "attach-token-payload",
			Order:   orderAttachPayload,
			Filters: []pipeline.Filter[GenerationContext]{storageEnabled},
			Factory: storeBacked(e.attachTokenPayload),
		},
	}
}

// attachCredentials selects the signing and encryption credentials for the
// requested kind from the pre-sorted pools. Selection failures are always
// configuration errors: the pools are fixed at startup.
func (e *Engine) attachCredentials(_ context.Context, c *GenerationContext) error {
	now := e.now()

	signing, err := domain.SelectSigning(c.Kind, e.opts.SigningCredentials, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	encryption, err := domain.SelectEncryption(c.Kind, e.opts.EncryptionCredentials, now, e.opts.DisableAccessTokenEncryption)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	c.Signing = signing
	c.Encryption = encryption
	return nil
}

// createTokenEntry persists the store record before encoding so the token id
// can be stamped into the claims. Device codes start inactive, awaiting
// end-user approval; every other kind starts valid.
func (e *Engine) createTokenEntry(ctx context.Context, c *GenerationContext) error {
	now := e.now()

	status := domain.TokenStatusValid
	if c.Kind == domain.KindDeviceCode {
		status = domain.TokenStatusInactive
	}

	// Device and user codes are minted before the end user is known.
	subject := c.Principal.Subject()
	if c.Kind == domain.KindDeviceCode || c.Kind == domain.KindUserCode {
		subject = ""
	}

	entry := domain.TokenEntry{
		ID:               idx.New().String(),
		AuthorizationID:  c.Principal.AuthorizationID(),
		Subject:          subject,
		Kind:             c.Kind,
		Status:           status,
		CreatedAt:        now,
		ExpiresAt:        c.Principal.ExpirationDate(),
		ConcurrencyToken: cryptox.MustGenerateToken(cryptox.TokenSize128),
	}

	if clientID := c.Principal.Get(domain.ClaimClientID); clientID != "" {
		app, err := e.opts.Store.Applications().FindByClientID(ctx, clientID)
		switch {
		case err == nil:
			entry.ApplicationID = app.ID
		case errors.Is(err, store.ErrNotFound):
			// Tokens for unregistered clients are still issuable.
		default:
			return err
		}
	}

	if c.Principal.CreationDate().IsZero() {
		c.Principal.SetCreationDate(now)
	}

	if err := e.opts.Store.Tokens().Create(ctx, entry); err != nil {
		return err
	}

	c.Principal.SetTokenID(entry.ID)
	c.EntryID = entry.ID
	c.entry = &entry

	slogx.FromContext(ctx).Debug("created token entry",
		"token_id", entry.ID,
		"status", string(status))
	return nil
}

// encodeToken builds the claim set for the kind and signs (and optionally
// encrypts) it. Access and identity tokens get the destination-filtered
// public projection; internal kinds carry the full claim bag so validation
// can reconstruct it losslessly.
func (e *Engine) encodeToken(_ context.Context, c *GenerationContext) error {
	claims := e.buildClaims(c.Kind, c.Principal)

	token, err := codec.Encode(claims, c.Kind, c.Signing, c.Encryption)
	if err != nil {
		return err
	}

	c.Token = token
	return nil
}

func (e *Engine) buildClaims(kind domain.Kind, principal *domain.Principal) map[string]any {
	switch kind {
	case domain.KindAccessToken:
		return e.buildPublicClaims(principal, domain.DestinationAccessToken)
	case domain.KindIDToken:
		return e.buildPublicClaims(principal, domain.DestinationIDToken)
	default:
		return buildInternalClaims(principal)
	}
}

// buildPublicClaims projects the principal onto a standard-claims surface:
// only claims destined for the target token are carried, plus the protocol
// claims every token of that shape must have.
func (e *Engine) buildPublicClaims(principal *domain.Principal, destination string) map[string]any {
	now := e.now()
	claims := map[string]any{}

	for _, claim := range principal.Claims() {
		if strings.HasPrefix(claim.Type, "pvt_") {
			continue
		}
		if !claim.HasDestination(destination) {
			continue
		}
		appendClaim(claims, claim.Type, claim.Value)
	}

	claims[domain.ClaimIssuer] = e.opts.Issuer
	claims[domain.ClaimIssuedAt] = now.Unix()

	if sub := principal.Subject(); sub != "" {
		claims[domain.ClaimSubject] = sub
	}
	if exp := principal.ExpirationDate(); !exp.IsZero() {
		claims[domain.ClaimExpiresAt] = exp.Unix()
	}

	// A single audience is encoded as a bare string, multiple as an array.
	switch audiences := principal.Audiences(); len(audiences) {
	case 0:
	case 1:
		claims[domain.ClaimAudience] = audiences[0]
	default:
		claims[domain.ClaimAudience] = toAnySlice(audiences)
	}

	if scopes := principal.Scopes(); len(scopes) > 0 {
		claims[domain.ClaimScope] = strings.Join(scopes, " ")
	}

	// amr is always an array, even with a single element.
	if amr := principal.GetAll(domain.ClaimAMR); len(amr) > 0 {
		claims[domain.ClaimAMR] = toAnySlice(amr)
	}

	if destination == domain.DestinationAccessToken {
		claims[domain.ClaimJTI] = cryptox.MustGenerateToken(cryptox.TokenSize128)
	}

	if id := principal.TokenID(); id != "" {
		claims[domain.ClaimPrivateTokenID] = id
	}
	if id := principal.AuthorizationID(); id != "" {
		claims[domain.ClaimPrivateAuthorizationID] = id
	}

	return claims
}

// buildInternalClaims carries the whole claim bag, pvt_kind excepted since
// the type tag is authoritative for the kind.
func buildInternalClaims(principal *domain.Principal) map[string]any {
	claims := map[string]any{}
	for _, claim := range principal.Claims() {
		if claim.Type == domain.ClaimPrivateKind {
			continue
		}
		appendClaim(claims, claim.Type, claim.Value)
	}
	return claims
}

// appendClaim merges repeated claim types into arrays, preserving order.
func appendClaim(claims map[string]any, name string, value any) {
	existing, ok := claims[name]
	if !ok {
		claims[name] = value
		return
	}
	if slice, ok := existing.([]any); ok {
		claims[name] = append(slice, value)
		return
	}
	claims[name] = []any{existing, value}
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// attachTokenPayload writes the protected payload back onto the store record
// and, for reference-delivered kinds, substitutes an opaque reference id as
// the wire token.
func (e *Engine) attachTokenPayload(ctx context.Context, c *GenerationContext) error {
	entry, err := e.opts.Store.Tokens().FindByID(ctx, c.EntryID)
	if err != nil {
		return err
	}

	entry.Payload = c.Token

	if e.referenceDelivery(c.Kind) {
		reference, err := e.newReferenceID(ctx, c.Kind)
		if err != nil {
			return err
		}
		entry.ReferenceID = reference
	}

	if err := e.opts.Store.Tokens().Update(ctx, entry); err != nil {
		return err
	}

	if entry.ReferenceID != "" {
		c.Token = entry.ReferenceID
		c.Reference = true
	}
	return nil
}

func (e *Engine) referenceDelivery(kind domain.Kind) bool {
	if kind.Policy().ReferenceDelivery {
		return true
	}
	switch kind {
	case domain.KindAccessToken:
		return e.opts.UseReferenceAccessTokens
	case domain.KindRefreshToken:
		return e.opts.UseReferenceRefreshTokens
	}
	return false
}

// newReferenceID mints the opaque wire identifier. User codes come from the
// short human-typable alphabet and are retried on collision; every other
// kind uses a 256-bit random id whose collision probability is negligible.
func (e *Engine) newReferenceID(ctx context.Context, kind domain.Kind) (string, error) {
	if kind != domain.KindUserCode {
		return cryptox.GenerateToken(cryptox.TokenSize256)
	}

	for attempt := 0; attempt < userCodeAttempts; attempt++ {
		code, err := cryptox.RandomString(e.opts.UserCodeCharset, e.opts.UserCodeLength)
		if err != nil {
			return "", err
		}
		_, err = e.opts.Store.Tokens().FindByReferenceID(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: could not mint a unique user code after %d attempts", ErrInvariant, userCodeAttempts)
}
