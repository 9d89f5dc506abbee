package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// envConfig mirrors the environment variables understood by the server.
// Variables that are unset leave the corresponding field untouched.
type envConfig struct {
	EndpointAddrHTTP              string        `env:"HTTP_ADDR"`
	EndpointAddrGRPC              string        `env:"GRPC_ADDR"`
	DatabaseDSN                   string        `env:"DATABASE_URL"`
	SecretKey                     string        `env:"JWT_SECRET"`
	AccessTokenValidityDuration   time.Duration `env:"JWT_EXPIRES_IN"`
	RefreshTokenValidityDuration  time.Duration `env:"REFRESH_TOKEN_EXPIRES_IN"`
	PasswordResetValidityDuration time.Duration `env:"PASSWORD_RESET_EXPIRES_IN"`
	BcryptCost                    int           `env:"BCRYPT_COST"`
	MaxFailedLogins               int           `env:"MAX_FAILED_LOGINS"`
	LockoutDuration               time.Duration `env:"LOCKOUT_DURATION"`
	AllowedOrigins                string        `env:"CORS_ORIGINS"`
	PublicBaseURL                 string        `env:"FRONTEND_URL"`
	MLBaseURL                     string        `env:"ML_SERVICE_URL"`
	MLTimeout                     time.Duration `env:"ML_TIMEOUT"`
	S3RootUser                    string        `env:"S3_ACCESS_KEY"`
	S3RootPassword                string        `env:"S3_SECRET_KEY"`
	S3Bucket                      string        `env:"S3_BUCKET"`
	S3Region                      string        `env:"S3_REGION"`
	S3BaseEndpoint                string        `env:"S3_ENDPOINT"`
	SMTPAddr                      string        `env:"SMTP_ADDR"`
	SMTPUser                      string        `env:"SMTP_USER"`
	SMTPPassword                  string        `env:"SMTP_PASSWORD"`
	SMTPFrom                      string        `env:"SMTP_FROM"`
	LogBackend                    string        `env:"LOG_BACKEND"`
	LogLevel                      string        `env:"LOG_LEVEL"`
}

// loadDotEnv is swapped in tests.
var loadDotEnv = func() error { return godotenv.Load() }

// parseEnv loads a .env file when present and overlays environment
// variables onto config.
func parseEnv(config *Config) error {
	// A missing .env file is normal outside local development.
	_ = loadDotEnv()

	e := envConfig{
		EndpointAddrHTTP:              config.EndpointAddrHTTP,
		EndpointAddrGRPC:              config.EndpointAddrGRPC,
		DatabaseDSN:                   config.DatabaseDSN,
		SecretKey:                     config.SecretKey,
		AccessTokenValidityDuration:   config.AccessTokenValidityDuration,
		RefreshTokenValidityDuration:  config.RefreshTokenValidityDuration,
		PasswordResetValidityDuration: config.PasswordResetValidityDuration,
		BcryptCost:                    config.BcryptCost,
		MaxFailedLogins:               config.MaxFailedLogins,
		LockoutDuration:               config.LockoutDuration,
		AllowedOrigins:                strings.Join(config.AllowedOrigins, ","),
		PublicBaseURL:                 config.PublicBaseURL,
		MLBaseURL:                     config.MLBaseURL,
		MLTimeout:                     config.MLTimeout,
		S3RootUser:                    config.S3RootUser,
		S3RootPassword:                config.S3RootPassword,
		S3Bucket:                      config.S3Bucket,
		S3Region:                      config.S3Region,
		S3BaseEndpoint:                config.S3BaseEndpoint,
		SMTPAddr:                      config.SMTPAddr,
		SMTPUser:                      config.SMTPUser,
		SMTPPassword:                  config.SMTPPassword,
		SMTPFrom:                      config.SMTPFrom,
		LogBackend:                    config.LogBackend,
		LogLevel:                      config.LogLevel,
	}

	if err := envdecode.Decode(&e); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}

	config.EndpointAddrHTTP = e.EndpointAddrHTTP
	config.EndpointAddrGRPC = e.EndpointAddrGRPC
	config.DatabaseDSN = e.DatabaseDSN
	config.SecretKey = e.SecretKey
	config.AccessTokenValidityDuration = e.AccessTokenValidityDuration
	config.RefreshTokenValidityDuration = e.RefreshTokenValidityDuration
	config.PasswordResetValidityDuration = e.PasswordResetValidityDuration
	config.BcryptCost = e.BcryptCost
	config.MaxFailedLogins = e.MaxFailedLogins
	config.LockoutDuration = e.LockoutDuration
	config.AllowedOrigins = splitList(e.AllowedOrigins)
	config.PublicBaseURL = e.PublicBaseURL
	config.MLBaseURL = e.MLBaseURL
	config.MLTimeout = e.MLTimeout
	config.S3RootUser = e.S3RootUser
	config.S3RootPassword = e.S3RootPassword
	config.S3Bucket = e.S3Bucket
	config.S3Region = e.S3Region
	config.S3BaseEndpoint = e.S3BaseEndpoint
	config.SMTPAddr = e.SMTPAddr
	config.SMTPUser = e.SMTPUser
	config.SMTPPassword = e.SMTPPassword
	config.SMTPFrom = e.SMTPFrom
	config.LogBackend = e.LogBackend
	config.LogLevel = e.LogLevel
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
