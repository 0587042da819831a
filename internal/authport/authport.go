// Package authport defines the narrow external port the proxy authenticates
// clients through. Credential storage, issuance, and rotation are out of
// scope (spec.md §1); the core only ever calls Verify.
package authport

import (
	"context"

	"github.com/ndrandal/marketgateway/internal/gwerrors"
)

// Identity is what a successful Verify resolves an API key to.
type Identity struct {
	UserID     string
	BrokerName string
}

// Port verifies a client-presented API key.
type Port interface {
	Verify(ctx context.Context, apiKey string) (Identity, error)
}

// StaticPort is a map-backed Port for tests and local development. Real
// deployments wire a different Port implementation in cmd/gatewayd.
type StaticPort struct {
	keys map[string]Identity
}

// NewStaticPort builds a StaticPort from a fixed api_key -> Identity map.
func NewStaticPort(keys map[string]Identity) *StaticPort {
	cp := make(map[string]Identity, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &StaticPort{keys: cp}
}

func (p *StaticPort) Verify(ctx context.Context, apiKey string) (Identity, error) {
	id, ok := p.keys[apiKey]
	if !ok {
		return Identity{}, gwerrors.New(gwerrors.InvalidAPIKey, "unknown api key")
	}
	return id, nil
}
