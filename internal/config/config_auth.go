package config

import "time"

// AuthConfig configures the gateway control-plane auth mode from spec.md
// §4.6/§6: Mode is one of "none", "token", "password". JWTSecret and
// APIKeys back bearer-token auth; Password backs the password mode.
type AuthConfig struct {
	Mode        string         `yaml:"mode"`
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
	Password    string         `yaml:"password"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}
