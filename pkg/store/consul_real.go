//go:build consul

package store

import (
	"github.com/rs/zerolog"

	"contract-mesh/pkg/consul"
)

// NewConsulStore creates a Consul-backed store (requires build tag consul).
func NewConsulStore(addr string, log zerolog.Logger) (StateStore, error) {
	s, err := consul.NewStore(addr)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", addr).Msg("using consul state store")
	return s, nil
}
