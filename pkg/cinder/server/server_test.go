package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/cinder/internal/config"
	"github.com/yourusername/cinder/pkg/cinder/auth"
)

// TestBindVerifierShortCircuitsWithoutDB exercises the wiring between
// Server.bindVerifier and auth.Verifier without requiring a live
// database: an empty name/password is rejected before the pool is ever
// touched.
func TestBindVerifierShortCircuitsWithoutDB(t *testing.T) {
	s := &Server{
		cfg:      config.Default(),
		verifier: auth.New(nil),
	}

	verify := s.bindVerifier()
	require.NotNil(t, verify)
	require.False(t, verify("", "", true))
}
