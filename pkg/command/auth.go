package command

import (
	"strings"

	"pitrdb/pkg/dberrors"
)

// Principal is an authenticated caller and the actions it may perform on
// ResourceServer.
type Principal struct {
	Name    string
	all     bool
	actions map[Action]struct{}
}

// Superuser is allowed every action.
func Superuser(name string) Principal {
	return Principal{Name: name, all: true}
}

func NewPrincipal(name string, actions ...Action) Principal {
	p := Principal{Name: name, actions: make(map[Action]struct{}, len(actions))}
	for _, a := range actions {
		p.actions[a] = struct{}{}
	}
	return p
}

// Allows reports whether the principal holds every action of every privilege.
func (p Principal) Allows(privs []Privilege) bool {
	if p.all {
		return true
	}
	for _, priv := range privs {
		if priv.Resource != ResourceServer {
			return false
		}
		for _, a := range priv.Actions {
			if _, ok := p.actions[a]; !ok {
				return false
			}
		}
	}
	return true
}

// TokenAuth maps bearer tokens to principals. Without configured tokens every
// caller is a superuser.
type TokenAuth struct {
	principals map[string]Principal
}

// NewTokenAuth builds the authenticator from token -> action names.
// The action "*" grants everything.
func NewTokenAuth(tokens map[string][]string) *TokenAuth {
	a := &TokenAuth{principals: make(map[string]Principal, len(tokens))}
	for token, names := range tokens {
		name := "token:" + prefix(token)
		actions := make([]Action, 0, len(names))
		all := false
		for _, n := range names {
			if n == "*" {
				all = true
				break
			}
			actions = append(actions, Action(n))
		}
		if all {
			a.principals[token] = Superuser(name)
		} else {
			a.principals[token] = NewPrincipal(name, actions...)
		}
	}
	return a
}

// Authenticate resolves the value of an Authorization header.
func (a *TokenAuth) Authenticate(header string) (Principal, error) {
	if len(a.principals) == 0 {
		return Superuser("anonymous"), nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Principal{}, dberrors.Newf(dberrors.ErrUnauthorized, "missing bearer token")
	}
	p, ok := a.principals[strings.TrimSpace(token)]
	if !ok {
		return Principal{}, dberrors.Newf(dberrors.ErrUnauthorized, "unknown token")
	}
	return p, nil
}

func prefix(token string) string {
	if len(token) > 4 {
		return token[:4]
	}
	return token
}
