// Package service implements the token protect/unprotect engine: the
// ordered validation and generation state machines, the credential wiring
// between them and the codec, the revocation/reuse guard and the background
// pruner. Each Validate or Generate call is one-shot and re-entrant; all
// per-call state lives on the context value it exclusively constructs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/aussiebroadwan/tokenforge/internal/token/codec"
	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/pipeline"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/slogx"
)

var (
	// ErrConfiguration reports a deployment defect: missing collaborator,
	// no matching credential, ambiguous kind combination. Fatal, never
	// surfaced as a protocol-level rejection.
	ErrConfiguration = errors.New("token: configuration error")

	// ErrInvariant reports a codec or filter bug, distinguishable from bad
	// requests so telemetry can separate the two.
	ErrInvariant = errors.New("token: internal invariant violation")
)

// Defaults applied by NewEngine when the corresponding option is zero.
const (
	DefaultClockSkew       = 2 * time.Minute
	DefaultUserCodeCharset = "BCDFGHJKMNPQRSTVWXZ23456789"
	DefaultUserCodeLength  = 8

	// userCodeAttempts bounds the uniqueness retry loop for user codes.
	userCodeAttempts = 10
)

// Options configures an Engine.
type Options struct {
	// Issuer is the canonical issuer URI. Tokens carrying either the
	// trailing-slash or trimmed spelling are accepted.
	Issuer string

	// SigningCredentials and EncryptionCredentials are the configured key
	// pools. NewEngine sorts them into canonical preference order.
	SigningCredentials    []domain.Credential
	EncryptionCredentials []domain.Credential

	// DisableAccessTokenEncryption keeps access tokens sign-only even when
	// encryption credentials are configured.
	DisableAccessTokenEncryption bool

	// DisableTokenStorage and DisableAuthorizationValidation put the
	// engine in degraded mode: storage-dependent stages are skipped
	// entirely.
	DisableTokenStorage            bool
	DisableAuthorizationValidation bool

	// DisableLifetimeValidation skips the expiration stage.
	DisableLifetimeValidation bool

	// AllowedCharset, when non-empty, strips any other character from
	// presented tokens before processing.
	AllowedCharset string

	// UseReferenceAccessTokens and UseReferenceRefreshTokens opt those
	// kinds into opaque reference delivery. Device and user codes are
	// always reference-delivered.
	UseReferenceAccessTokens  bool
	UseReferenceRefreshTokens bool

	// UserCodeCharset and UserCodeLength shape generated user codes.
	UserCodeCharset string
	UserCodeLength  int

	// ReuseLeeway is the grace window during which a just-redeemed refresh
	// token may be presented again without triggering revocation. Zero
	// disables the window.
	ReuseLeeway time.Duration

	// ClockSkew is the tolerance applied to lifetime checks.
	ClockSkew time.Duration

	// Store is the persistence collaborator. Required unless both storage
	// flags above are disabled.
	Store store.Store

	// Now is the clock source. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Engine is the token protection core. Build one at startup and share it;
// all methods are safe for concurrent use.
type Engine struct {
	opts Options

	validation *pipeline.Pipeline[ValidationContext]
	generation *pipeline.Pipeline[GenerationContext]
}

// NewEngine validates the options and builds both pipelines. Descriptors
// whose collaborators are unavailable fail here, not at invocation time.
func NewEngine(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.Issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrConfiguration)
	}
	if len(opts.SigningCredentials) == 0 {
		return nil, fmt.Errorf("%w: at least one signing credential is required", ErrConfiguration)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = DefaultClockSkew
	}
	if opts.UserCodeCharset == "" {
		opts.UserCodeCharset = DefaultUserCodeCharset
	}
	if opts.UserCodeLength <= 0 {
		opts.UserCodeLength = DefaultUserCodeLength
	}

	domain.SortCredentials(opts.SigningCredentials)
	domain.SortCredentials(opts.EncryptionCredentials)

	e := &Engine{opts: opts}

	validation, err := pipeline.New(e.validationDescriptors()...)
	if err != nil {
		return nil, err
	}
	generation, err := pipeline.New(e.generationDescriptors()...)
	if err != nil {
		return nil, err
	}

	e.validation = validation
	e.generation = generation
	return e, nil
}

// ValidationResult is the terminal state of a validation attempt: either a
// populated principal or a structured rejection, never both.
type ValidationResult struct {
	Principal *domain.Principal
	Rejection *domain.Rejection
}

// Accepted reports whether the token was accepted.
func (r ValidationResult) Accepted() bool { return r.Rejection == nil && r.Principal != nil }

// Validate runs the validation state machine over a raw token string and
// the set of acceptable kinds. Rejections are part of the result; a
// returned error always means a configuration, store or invariant failure
// and the whole call may be retried.
func (e *Engine) Validate(ctx context.Context, token string, kinds ...domain.Kind) (ValidationResult, error) {
	if len(kinds) == 0 {
		return ValidationResult{}, fmt.Errorf("%w: at least one acceptable kind is required", ErrConfiguration)
	}
	for _, k := range kinds {
		if !k.Known() {
			return ValidationResult{}, fmt.Errorf("%w: unknown token kind %d", ErrConfiguration, k)
		}
	}

	vc := &ValidationContext{Token: token, Kinds: kinds}
	if err := e.validation.Execute(ctx, vc); err != nil {
		return ValidationResult{}, err
	}

	if vc.rejection != nil {
		return ValidationResult{Rejection: vc.rejection}, nil
	}
	return ValidationResult{Principal: vc.Principal}, nil
}

// GenerationResult is a wire-ready token: either the protected token itself
// or, for reference-delivered kinds, the opaque id substitutable for it.
type GenerationResult struct {
	Token     string
	Reference bool
	EntryID   string
}

// Generate runs the generation state machine for a principal and a
// requested kind and returns the wire-ready token string.
func (e *Engine) Generate(ctx context.Context, kind domain.Kind, principal *domain.Principal) (GenerationResult, error) {
	if !kind.Known() || kind == domain.KindClientAssertion {
		return GenerationResult{}, fmt.Errorf("%w: cannot generate tokens of kind %s", ErrConfiguration, kind)
	}
	if principal == nil {
		return GenerationResult{}, fmt.Errorf("%w: a principal is required", ErrConfiguration)
	}

	gc := &GenerationContext{Kind: kind, Principal: principal}
	ctx = slogx.WithKind(ctx, kind.String())
	if err := e.generation.Execute(ctx, gc); err != nil {
		return GenerationResult{}, err
	}

	return GenerationResult{Token: gc.Token, Reference: gc.Reference, EntryID: gc.EntryID}, nil
}

func (e *Engine) now() time.Time { return e.opts.Now() }

func (e *Engine) tokenStorageEnabled() bool {
	return !e.opts.DisableTokenStorage
}

func (e *Engine) authorizationValidationEnabled() bool {
	return !e.opts.DisableAuthorizationValidation && !e.opts.DisableTokenStorage
}

// issuerVariants returns the accepted issuer spellings: the configured base
// URI plus its trailing-slash counterpart.
func issuerVariants(issuer string) []string {
	issuer = strings.TrimSpace(issuer)
	if strings.HasSuffix(issuer, "/") {
		return []string{issuer, strings.TrimSuffix(issuer, "/")}
	}
	return []string{issuer, issuer + "/"}
}

// resolveClientKeys fetches a client's published key set and converts it to
// verification-only credentials. The issuer is untrusted at this point: the
// lookup provides candidate keys, not proof of identity.
func (e *Engine) resolveClientKeys(ctx context.Context, issuer string) ([]domain.Credential, error) {
	app, err := e.opts.Store.Applications().FindByClientID(ctx, issuer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown client %q", codec.ErrInvalidIssuer, issuer)
		}
		return nil, err
	}
	if app.JWKS == "" {
		return nil, fmt.Errorf("%w: client %q has no published keys", codec.ErrInvalidIssuer, issuer)
	}

	set, err := jwk.Parse([]byte(app.JWKS))
	if err != nil {
		return nil, fmt.Errorf("%w: client %q key set cannot be parsed", codec.ErrInvalidIssuer, issuer)
	}

	var creds []domain.Credential
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		creds = append(creds, domain.Credential{KeyID: key.KeyID(), PublicKey: raw})
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: client %q has no usable keys", codec.ErrInvalidIssuer, issuer)
	}
	return creds, nil
}
