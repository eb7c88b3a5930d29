// Package postgrestest provides an in-memory store for package tests.
package postgrestest

import (
	"testing"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
	"github.com/stretchr/testify/require"
)

// NewStore returns a migrated SQLite-backed Store that is closed when t ends.
func NewStore(t testing.TB) *postgres.Store {
	t.Helper()

	s, err := postgres.Open(config.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Ptr returns a pointer to v, for populating nullable columns.
func Ptr[T any](v T) *T {
	return &v
}
