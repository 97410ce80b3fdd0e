package database

import (
	"fmt"
	"strings"
)

// URLConfig carries the connection settings read from the environment.
// Either URL is set directly, or InstanceConnectionName plus User and Name
// select a Cloud SQL unix socket.
type URLConfig struct {
	URL                    string
	InstanceConnectionName string
	User                   string
	Password               string
	Name                   string
}

// Configured reports whether any connection source is present.
func (c URLConfig) Configured() bool {
	return c.URL != "" || c.InstanceConnectionName != ""
}

// BuildURL returns a lib/pq connection string. A direct URL wins over the
// Cloud SQL socket settings.
func BuildURL(c URLConfig) (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}

	if c.InstanceConnectionName == "" {
		return "", fmt.Errorf("neither DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
	}
	if c.User == "" || c.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	// Cloud Run mounts instances at /cloudsql/<connection name>.
	socket := "/cloudsql/" + c.InstanceConnectionName
	if c.Password != "" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
			socket, c.User, c.Password, c.Name), nil
	}
	// IAM authentication
	return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", socket, c.User, c.Name), nil
}

// Redact hides the password of a postgres:// URL for logging.
func Redact(connStr string) string {
	if !strings.HasPrefix(connStr, "postgresql://") && !strings.HasPrefix(connStr, "postgres://") {
		if i := strings.Index(connStr, "password="); i >= 0 {
			end := strings.IndexByte(connStr[i:], ' ')
			if end < 0 {
				return connStr[:i] + "password=***"
			}
			return connStr[:i] + "password=***" + connStr[i+end:]
		}
		return connStr
	}

	parts := strings.SplitN(connStr, "@", 2)
	if len(parts) != 2 {
		return connStr
	}
	userParts := strings.Split(parts[0], ":")
	if len(userParts) >= 3 {
		return userParts[0] + ":" + userParts[1] + ":***@" + parts[1]
	}
	return connStr
}
