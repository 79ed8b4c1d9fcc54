package sqlgraph

import (
	"fmt"
	"net/url"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
)

// withCredentials merges a configured username/password into dsn. Credentials
// already present in the DSN win.
func withCredentials(driver, dsn, username, password string) (string, error) {
	if username == "" {
		return dsn, nil
	}
	switch driver {
	case DriverMySQL:
		cfg, err := gomysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		if cfg.User == "" {
			cfg.User, cfg.Passwd = username, password
		}
		return cfg.FormatDSN(), nil
	case DriverPostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			u, err := url.Parse(dsn)
			if err != nil {
				return "", fmt.Errorf("parse postgres url: %w", err)
			}
			if u.User == nil {
				u.User = url.UserPassword(username, password)
			}
			return u.String(), nil
		}
		if strings.Contains(dsn, "user=") {
			return dsn, nil
		}
		return strings.TrimSpace(fmt.Sprintf("%s user=%s password=%s", dsn, quoteKV(username), quoteKV(password))), nil
	default:
		return dsn, nil
	}
}

// quoteKV quotes a libpq keyword/value when it contains spaces or quotes.
func quoteKV(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
