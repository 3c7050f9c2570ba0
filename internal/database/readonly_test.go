package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReadOnlyAllows(t *testing.T) {
	allowed := []string{
		"SELECT * FROM users",
		"select id, name from users where id = 1",
		"  SELECT 1  ",
		"SELECT 1;",
		"SHOW TABLES",
		"SHOW DATABASES",
		"DESCRIBE users",
		"DESC users",
		"EXPLAIN SELECT * FROM users",
		"SELECT * FROM settings",
		"SELECT * FROM user_settings WHERE setting_name = 'theme'",
		"SELECT created_at, updated_at, deleted FROM orders",
		"SELECT * FROM users WHERE name = 'DROP TABLE users'",
		"SELECT * FROM users WHERE note = 'it''s; DELETE'",
		"SELECT `update` FROM t -- DELETE everything",
		"SELECT /* INSERT */ 1",
		"SELECT id FROM t ORDER BY id DESC",
		"WITH recent AS (SELECT * FROM orders WHERE id > 10) SELECT * FROM recent",
		"with recursive n AS (SELECT 1 AS v UNION ALL SELECT v + 1 FROM n WHERE v < 5) SELECT v FROM n",
	}

	for _, stmt := range allowed {
		t.Run(stmt, func(t *testing.T) {
			assert.NoError(t, ValidateReadOnly(stmt))
		})
	}
}

func TestValidateReadOnlyBlocks(t *testing.T) {
	blocked := map[string]string{
		"":                                 "empty",
		"INSERT INTO users VALUES (1)":     "INSERT",
		"UPDATE users SET name = 'x'":      "UPDATE",
		"DELETE FROM users":                "DELETE",
		"DROP TABLE users":                 "DROP",
		"CREATE TABLE t (id INT)":          "CREATE",
		"ALTER TABLE t ADD COLUMN a INT":   "ALTER",
		"TRUNCATE TABLE users":             "TRUNCATE",
		"GRANT ALL ON *.* TO 'u'":          "GRANT",
		"CALL proc()":                      "CALL",
		"SET @v = 1":                       "SET",
		"REPLACE INTO t VALUES (1)":        "REPLACE",
		"SELECTX FROM t":                   "prefix",
		"SELECT 1; DROP TABLE users":       "multiple statements",
		"SELECT 1; -- c\nDROP TABLE users": "multiple statements",
		"SELECT * FROM t WHERE id IN (SELECT id FROM u FOR UPDATE)": "UPDATE",
		"SELECT * INTO OUTFILE '/tmp/x' FROM users":                "INTO OUTFILE",
		"SELECT * INTO DUMPFILE '/tmp/x' FROM users":               "INTO DUMPFILE",
		"SELECT id INTO @v FROM users":                             "INTO @",
		"SELECT LOAD_FILE('/etc/passwd')":                          "LOAD_FILE",
		"SELECT SLEEP(10)":                                         "SLEEP",
		"SELECT BENCHMARK(1000000, SHA1('x'))":                     "BENCHMARK",
		"SELECT GET_LOCK('l', 10)":                                 "GET_LOCK",
		"EXPLAIN DELETE FROM users":                                "DELETE",
		"WITH x AS (SELECT id FROM users) DELETE FROM users":       "DELETE",
		"WITH x AS (SELECT 1) UPDATE users SET name = 'y'":         "UPDATE",
		"WITHOUT SELECT 1":                                         "prefix",
	}

	for stmt, reason := range blocked {
		t.Run(reason+"/"+stmt, func(t *testing.T) {
			assert.ErrorIs(t, ValidateReadOnly(stmt), ErrReadOnly)
		})
	}
}

func TestStripLiterals(t *testing.T) {
	assert.Equal(t, "SELECT '' FROM t", stripLiterals(`SELECT 'a\'b' FROM t`))
	assert.Equal(t, `SELECT "" FROM t`, stripLiterals(`SELECT "x""y" FROM t`))
	assert.Equal(t, "SELECT   1", stripLiterals("SELECT /* c */ 1"))
	assert.Equal(t, "SELECT 1  ", stripLiterals("SELECT 1 # trailing"))
	assert.Equal(t, "SELECT `` FROM t", stripLiterals("SELECT `a;b` FROM t"))
}

func TestIsWrite(t *testing.T) {
	assert.True(t, IsWrite("insert into t values (1)"))
	assert.True(t, IsWrite("  UPDATE t SET a = 1"))
	assert.True(t, IsWrite("DELETE FROM t"))
	assert.True(t, IsWrite("REPLACE INTO t VALUES (1)"))
	assert.False(t, IsWrite("SELECT * FROM t"))
	assert.False(t, IsWrite("SHOW TABLES"))
}
