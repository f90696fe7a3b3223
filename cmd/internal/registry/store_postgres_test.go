package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The Postgres store builds its SQL from profileColumns while db/schema.sql is
// applied out of band, so nothing at runtime checks that the two agree. This
// test pins the column list to the authoritative DDL.
func TestProfileColumns_MatchSchemaDDL(t *testing.T) {
	t.Parallel()

	defined := schemaColumns(t, "profiles")

	for _, col := range strings.Split(profileColumns, ",") {
		col = strings.TrimSpace(col)
		require.Contains(t, defined, col, "store names column %q but db/schema.sql does not define it", col)
	}
}

// schemaColumns parses the column names out of a CREATE TABLE block in
// db/schema.sql.
func schemaColumns(t *testing.T, table string) map[string]bool {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "db", "schema.sql"))
	require.NoError(t, err)

	marker := "." + table + " ("
	start := strings.Index(string(raw), marker)
	require.GreaterOrEqual(t, start, 0, "table %q not found in db/schema.sql", table)

	body := string(raw)[start+len(marker):]
	end := strings.Index(body, "\n);")
	require.GreaterOrEqual(t, end, 0, "unterminated CREATE TABLE for %q", table)
	body = body[:end]

	cols := make(map[string]bool)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		name := strings.Fields(line)[0]
		switch name {
		case "CONSTRAINT", "PRIMARY", "UNIQUE", "CHECK", "FOREIGN":
			continue
		}
		cols[name] = true
	}
	return cols
}
