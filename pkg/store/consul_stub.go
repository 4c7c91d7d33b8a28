//go:build !consul

package store

import "github.com/rs/zerolog"

// NewConsulStore returns a memory store when the consul build tag is not enabled.
func NewConsulStore(addr string, log zerolog.Logger) (StateStore, error) {
	log.Warn().Str("addr", addr).Msg("consul store requested but consul build tag not enabled; using memory store")
	return NewMemoryStore(), nil
}
