package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSessionKey is the main agent's main conversation.
const DefaultSessionKey = "agent:main:main"

const sessionKeyPrefix = "agent:"

// ErrInvalidSessionKey is returned for keys not of the form agent:<id>:<scope>.
var ErrInvalidSessionKey = errors.New("invalid session key")

// SessionKey identifies one logical conversation on the Gateway.
type SessionKey struct {
	AgentID string
	Scope   string
}

func (k SessionKey) String() string {
	return sessionKeyPrefix + k.AgentID + ":" + k.Scope
}

// ParseSessionKey validates and splits a session key. The scope may itself
// contain colons.
func ParseSessionKey(s string) (SessionKey, error) {
	if !strings.HasPrefix(s, sessionKeyPrefix) {
		return SessionKey{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidSessionKey, s, sessionKeyPrefix)
	}
	agent, scope, ok := strings.Cut(strings.TrimPrefix(s, sessionKeyPrefix), ":")
	if !ok || agent == "" || scope == "" {
		return SessionKey{}, fmt.Errorf("%w: %q is not agent:<agentId>:<scope>", ErrInvalidSessionKey, s)
	}
	return SessionKey{AgentID: agent, Scope: scope}, nil
}

// ValidateSessionKey reports whether s is a well-formed session key.
func ValidateSessionKey(s string) error {
	_, err := ParseSessionKey(s)
	return err
}
