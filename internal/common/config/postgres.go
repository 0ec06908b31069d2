package config

import (
	"sort"
	"strings"
	"time"
)

type PostgresConfig struct {
	PoolMaxOpenConns    int
	PoolMaxConnLifetime time.Duration
	Connection          map[string]string
}

// ConnectionString renders Connection as a libpq keyword/value string.
func (pc PostgresConfig) ConnectionString() string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(pc.Connection))
	for k := range pc.Connection {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(pc.Connection[k])+"'")
	}
	return strings.Join(parts, " ")
}
