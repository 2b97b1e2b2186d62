// Package enterprise is the corporate identity-provider collaborator. It signs
// an account in with the OAuth device flow, verifies the OIDC ID token, caches
// tokens in the local store and hands out access tokens silently afterwards.
package enterprise

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/casefiles/casefiles/internal/events"
	"github.com/casefiles/casefiles/internal/logging"
	"github.com/casefiles/casefiles/internal/metrics"
	"github.com/casefiles/casefiles/internal/store"
)

var (
	// ErrNoAccount is returned by Token when nobody is signed in.
	ErrNoAccount = errors.New("no enterprise account signed in")
	// ErrNoPendingLogin is returned by CompleteLogin without a prior StartLogin.
	ErrNoPendingLogin = errors.New("no interactive login in progress")
)

// Account is a signed-in enterprise account.
type Account struct {
	Subject  string `json:"subject"`
	Name     string `json:"name"`
	Username string `json:"username"`
	TenantID string `json:"tenantId,omitempty"`
}

// EventKind names an account change.
type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

// Event is published on every account change. Account is nil for SignedOut.
type Event struct {
	Kind    EventKind `json:"kind"`
	Account *Account  `json:"account,omitempty"`
}

// TokenStore persists the cached account and tokens.
type TokenStore interface {
	SaveEnterprise(ctx context.Context, rec *store.EnterpriseRecord) error
	LoadEnterprise(ctx context.Context) (*store.EnterpriseRecord, error)
	ClearEnterprise(ctx context.Context) error
}

// Config holds provider configuration.
type Config struct {
	Authority             string // OIDC issuer, e.g. https://login.microsoftonline.com/{tenant}/v2.0
	ClientID              string
	Scopes                []string
	PostLogoutRedirectURL string
	HTTPClient            *http.Client
}

// DeviceLogin is what the user needs to finish an interactive login.
type DeviceLogin struct {
	UserCode                string    `json:"userCode"`
	VerificationURI         string    `json:"verificationUri"`
	VerificationURIComplete string    `json:"verificationUriComplete,omitempty"`
	ExpiresAt               time.Time `json:"expiresAt"`
}

// Provider is the enterprise identity collaborator. Safe for concurrent use.
type Provider struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	endSession string
	postLogout string
	store      TokenStore
	baseCtx    context.Context

	mu      sync.Mutex
	account *Account
	src     oauth2.TokenSource
	last    *oauth2.Token
	pending *oauth2.DeviceAuthResponse
	// gen changes on every sign-in and sign-out; a refresh started under an
	// older generation is never written back.
	gen uint64

	events *events.Broadcaster[Event]
}

// New discovers the provider's endpoints from cfg.Authority.
func New(ctx context.Context, cfg Config, st TokenStore) (*Provider, error) {
	if cfg.Authority == "" || cfg.ClientID == "" {
		return nil, errors.New("enterprise: authority and client id are required")
	}
	baseCtx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
		baseCtx = oidc.ClientContext(baseCtx, cfg.HTTPClient)
		baseCtx = context.WithValue(baseCtx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}

	var extra struct {
		DeviceAuthURL string `json:"device_authorization_endpoint"`
		EndSession    string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("parse discovery document: %w", err)
	}
	if extra.DeviceAuthURL == "" {
		return nil, errors.New("enterprise: provider does not support device authorization")
	}

	endpoint := provider.Endpoint()
	endpoint.DeviceAuthURL = extra.DeviceAuthURL
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	logging.Info("enterprise identity provider initialized",
		zap.String("issuer", cfg.Authority),
		zap.String("client_id", cfg.ClientID))

	return &Provider{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: endpoint,
			Scopes:   cfg.Scopes,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		endSession: extra.EndSession,
		postLogout: cfg.PostLogoutRedirectURL,
		store:      st,
		baseCtx:    baseCtx,
		events:     events.NewBroadcaster[Event]("enterprise"),
	}, nil
}

// Subscribe returns a channel of account changes.
func (p *Provider) Subscribe() chan Event {
	return p.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (p *Provider) Unsubscribe(ch chan Event) {
	p.events.Unsubscribe(ch)
}

// Account returns the signed-in account, or nil.
func (p *Provider) Account() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == nil {
		return nil
	}
	a := *p.account
	return &a
}

// Restore loads a cached account from the store without any network call.
// It returns nil when nothing is cached.
func (p *Provider) Restore(ctx context.Context) (*Account, error) {
	rec, err := p.store.LoadEnterprise(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load enterprise session: %w", err)
	}

	acct := &Account{Subject: rec.Subject, Name: rec.Name, Username: rec.Username, TenantID: rec.TenantID}
	tok := &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		Expiry:       rec.Expiry,
	}
	p.setSession(acct, tok)
	logging.Debug("restored enterprise account", zap.String("username", acct.Username))
	return acct, nil
}

// StartLogin begins an interactive device-code login. A previous pending
// login is replaced.
func (p *Provider) StartLogin(ctx context.Context) (*DeviceLogin, error) {
	da, err := p.oauth.DeviceAuth(p.clientCtx(ctx))
	if err != nil {
		metrics.RecordAuthAttempt("enterprise", false)
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	p.mu.Lock()
	p.pending = da
	p.mu.Unlock()

	return &DeviceLogin{
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		ExpiresAt:               da.Expiry,
	}, nil
}

// CompleteLogin waits for the user to approve the pending login, verifies the
// ID token and persists the account. It blocks until approval, expiry or ctx
// cancellation.
func (p *Provider) CompleteLogin(ctx context.Context) (*Account, error) {
	p.mu.Lock()
	da := p.pending
	p.mu.Unlock()
	if da == nil {
		return nil, ErrNoPendingLogin
	}

	tok, err := p.oauth.DeviceAccessToken(p.clientCtx(ctx), da)
	if err != nil {
		metrics.RecordAuthAttempt("enterprise", false)
		return nil, fmt.Errorf("device token: %w", err)
	}

	acct, err := p.verify(ctx, tok)
	if err != nil {
		metrics.RecordAuthAttempt("enterprise", false)
		return nil, err
	}

	if err := p.persist(ctx, acct, tok); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.pending == da {
		p.pending = nil
	}
	p.mu.Unlock()
	p.setSession(acct, tok)

	metrics.RecordAuthAttempt("enterprise", true)
	logging.Info("enterprise account signed in", zap.String("username", acct.Username))
	p.events.Publish(Event{Kind: SignedIn, Account: acct})
	return acct, nil
}

func (p *Provider) verify(ctx context.Context, tok *oauth2.Token) (*Account, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, errors.New("token response has no id_token")
	}
	idToken, err := p.verifier.Verify(p.clientCtx(ctx), raw)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		OID               string `json:"oid"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		TID               string `json:"tid"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		username = claims.Sub
	}
	subject := claims.OID
	if subject == "" {
		subject = claims.Sub
	}
	return &Account{Subject: subject, Name: claims.Name, Username: username, TenantID: claims.TID}, nil
}

// Token returns an access token for the signed-in account, refreshing it
// without user interaction when needed. Rotated tokens are persisted.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	src, acct, last, gen := p.src, p.account, p.last, p.gen
	p.mu.Unlock()
	if src == nil || acct == nil {
		return "", ErrNoAccount
	}

	tok, err := src.Token()
	if err != nil {
		metrics.RecordAuthAttempt("enterprise_silent", false)
		return "", fmt.Errorf("silent token acquisition: %w", err)
	}

	if last == nil || tok.AccessToken != last.AccessToken {
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return "", ErrNoAccount
		}
		p.last = tok
		// Held across the write so Logout cannot clear the store in between.
		err := p.persist(ctx, acct, tok)
		p.mu.Unlock()
		if err != nil {
			logging.WithContext(ctx).Warn("failed to persist refreshed token", zap.Error(err))
		}
	}
	return tok.AccessToken, nil
}

// Logout forgets the account locally and returns the provider's end-session
// URL for the interactive logout redirect. The URL is empty when the provider
// does not advertise one.
func (p *Provider) Logout(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.account, p.src, p.last, p.pending = nil, nil, nil, nil
	p.gen++
	err := p.store.ClearEnterprise(ctx)
	p.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("clear enterprise session: %w", err)
	}
	p.events.Publish(Event{Kind: SignedOut})
	logging.Info("enterprise account signed out")

	if p.endSession == "" {
		return "", nil
	}
	u, err := url.Parse(p.endSession)
	if err != nil {
		return "", fmt.Errorf("parse end session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", p.oauth.ClientID)
	if p.postLogout != "" {
		q.Set("post_logout_redirect_uri", p.postLogout)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close releases subscribers.
func (p *Provider) Close() {
	p.events.Close()
}

func (p *Provider) setSession(acct *Account, tok *oauth2.Token) {
	src := oauth2.ReuseTokenSource(tok, p.oauth.TokenSource(p.baseCtx, tok))
	p.mu.Lock()
	p.account = acct
	p.src = src
	p.last = tok
	p.gen++
	p.mu.Unlock()
}

func (p *Provider) persist(ctx context.Context, acct *Account, tok *oauth2.Token) error {
	rec := &store.EnterpriseRecord{
		Subject:      acct.Subject,
		Name:         acct.Name,
		Username:     acct.Username,
		TenantID:     acct.TenantID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if err := p.store.SaveEnterprise(ctx, rec); err != nil {
		return fmt.Errorf("save enterprise session: %w", err)
	}
	return nil
}

// clientCtx carries the configured HTTP client into oauth2 and oidc calls.
func (p *Provider) clientCtx(ctx context.Context) context.Context {
	if hc, ok := p.baseCtx.Value(oauth2.HTTPClient).(*http.Client); ok {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		ctx = oidc.ClientContext(ctx, hc)
	}
	return ctx
}
