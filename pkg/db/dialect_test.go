package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	for _, typ := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialect(Config{Type: typ, Host: "localhost", Port: "5432", Name: "ledger"})
		require.NoError(t, err)
		assert.Equal(t, typ, d.Name())
	}

	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}
