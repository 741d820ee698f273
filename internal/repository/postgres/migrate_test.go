package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsEmbedded(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_init.sql", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS cases")

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
}
