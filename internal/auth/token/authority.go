// Package token issues and verifies the bearer tokens that scope a task's
// cores and a negotiation channel's budget.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	coreerrors "github.com/beam-me/core/internal/errors"
)

const (
	TaskSubjectPrefix    = "task:"
	ChannelSubjectPrefix = "channel:"

	DefaultTTL = time.Hour
)

// Claims is the union of task and channel token scopes. Fields irrelevant to
// the token kind are omitted on the wire.
type Claims struct {
	Cores           []string `json:"cores,omitempty"`
	AllowDirect     bool     `json:"allow_direct,omitempty"`
	OriginCore      string   `json:"origin_core,omitempty"`
	TargetCore      string   `json:"target_core,omitempty"`
	Budget          int      `json:"negotiation_budget,omitempty"`
	AllowedMsgTypes []string `json:"allowed_msg_types,omitempty"`
	jwt.RegisteredClaims
}

// TaskID returns the task id encoded in a task token's subject.
func (c *Claims) TaskID() string {
	return strings.TrimPrefix(c.Subject, TaskSubjectPrefix)
}

// ChannelID returns the channel id encoded in a channel token's subject.
func (c *Claims) ChannelID() string {
	return strings.TrimPrefix(c.Subject, ChannelSubjectPrefix)
}

// AllowsCore reports whether core may act under a task token. A token that
// names no cores scopes none.
func (c *Claims) AllowsCore(core string) bool {
	for _, allowed := range c.Cores {
		if allowed == core {
			return true
		}
	}
	return false
}

// AllowsMsgType reports whether a channel token permits msgType.
func (c *Claims) AllowsMsgType(msgType string) bool {
	for _, allowed := range c.AllowedMsgTypes {
		if allowed == msgType {
			return true
		}
	}
	return false
}

// Authority mints and verifies HS256 tokens with a shared secret.
type Authority struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option customizes an Authority.
type Option func(*Authority)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthority returns an Authority. The secret must be non-empty.
func NewAuthority(secret, issuer string, opts ...Option) (*Authority, error) {
	if secret == "" {
		return nil, errors.New("token secret not configured")
	}
	a := &Authority{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// MintTaskToken scopes a task id to the cores that may act under it.
func (a *Authority) MintTaskToken(taskID string, cores []string, allowDirect bool, ttl time.Duration) (string, error) {
	if taskID == "" {
		return "", errors.New("task id is required")
	}
	claims := &Claims{
		Cores:            append([]string(nil), cores...),
		AllowDirect:      allowDirect,
		RegisteredClaims: a.registered(TaskSubjectPrefix+taskID, ttl),
	}
	return a.sign(claims)
}

// MintChannelToken scopes a channel to its endpoints, budget and message types.
func (a *Authority) MintChannelToken(channelID, origin, target string, budget int, allowedMsgTypes []string, ttl time.Duration) (string, error) {
	if channelID == "" {
		return "", errors.New("channel id is required")
	}
	claims := &Claims{
		OriginCore:       origin,
		TargetCore:       target,
		Budget:           budget,
		AllowedMsgTypes:  append([]string(nil), allowedMsgTypes...),
		RegisteredClaims: a.registered(ChannelSubjectPrefix+channelID, ttl),
	}
	return a.sign(claims)
}

// Verify parses token, checks signature, issuer and expiry, and requires the
// subject to start with expectedSubjectPrefix. A leading "Bearer " is ignored.
// Every failure wraps ErrInvalidToken.
func (a *Authority) Verify(token, expectedSubjectPrefix string) (*Claims, error) {
	raw := strings.TrimSpace(token)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", coreerrors.ErrInvalidToken)
	}

	claims := &Claims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token not valid", coreerrors.ErrInvalidToken)
	}
	if !strings.HasPrefix(claims.Subject, expectedSubjectPrefix) {
		return nil, fmt.Errorf("%w: subject %q does not match %q", coreerrors.ErrInvalidToken, claims.Subject, expectedSubjectPrefix)
	}
	return claims, nil
}

// VerifyTask verifies a task token.
func (a *Authority) VerifyTask(token string) (*Claims, error) {
	return a.Verify(token, TaskSubjectPrefix)
}

// VerifyChannel verifies a channel token issued for exactly channelID.
func (a *Authority) VerifyChannel(token, channelID string) (*Claims, error) {
	claims, err := a.Verify(token, ChannelSubjectPrefix)
	if err != nil {
		return nil, err
	}
	if claims.Subject != ChannelSubjectPrefix+channelID {
		return nil, fmt.Errorf("%w: token issued for %q, not channel %q", coreerrors.ErrInvalidToken, claims.Subject, channelID)
	}
	return claims, nil
}

func (a *Authority) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := a.now()
	return jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (a *Authority) sign(claims *Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
