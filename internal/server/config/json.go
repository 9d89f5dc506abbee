package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/flagx"
	"github.com/dmitrijs2005/diacheck/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Duration fields
// accept "24h" style strings or integer nanoseconds. Only fields present in
// the file override the current values.
type JsonConfig struct {
	EndpointAddrHTTP              *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC              *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                   *string         `json:"database_dsn"`
	SecretKey                     *string         `json:"secret_key"`
	AccessTokenValidityDuration   *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration  *timex.Duration `json:"refresh_token_validity_duration"`
	PasswordResetValidityDuration *timex.Duration `json:"password_reset_validity_duration"`
	BcryptCost                    *int            `json:"bcrypt_cost"`
	MaxFailedLogins               *int            `json:"max_failed_logins"`
	LockoutDuration               *timex.Duration `json:"lockout_duration"`
	AllowedOrigins                []string        `json:"allowed_origins"`
	PublicBaseURL                 *string         `json:"public_base_url"`
	MLBaseURL                     *string         `json:"ml_base_url"`
	MLTimeout                     *timex.Duration `json:"ml_timeout"`
	S3RootUser                    *string         `json:"s3_root_user"`
	S3RootPassword                *string         `json:"s3_root_password"`
	S3Bucket                      *string         `json:"s3_bucket"`
	S3Region                      *string         `json:"s3_region"`
	S3BaseEndpoint                *string         `json:"s3_base_endpoint"`
	SMTPAddr                      *string         `json:"smtp_addr"`
	SMTPUser                      *string         `json:"smtp_user"`
	SMTPPassword                  *string         `json:"smtp_password"`
	SMTPFrom                      *string         `json:"smtp_from"`
	LogBackend                    *string         `json:"log_backend"`
	LogLevel                      *string         `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config. Nothing
// happens when the flag is absent.
func parseJson(config *Config) error {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.PasswordResetValidityDuration, c.PasswordResetValidityDuration)
	setInt(&config.BcryptCost, c.BcryptCost)
	setInt(&config.MaxFailedLogins, c.MaxFailedLogins)
	setDuration(&config.LockoutDuration, c.LockoutDuration)
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	setString(&config.MLBaseURL, c.MLBaseURL)
	setDuration(&config.MLTimeout, c.MLTimeout)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.SMTPAddr, c.SMTPAddr)
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.LogBackend, c.LogBackend)
	setString(&config.LogLevel, c.LogLevel)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
