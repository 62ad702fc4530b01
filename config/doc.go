// Package config loads execkit configuration from a YAML file, an optional
// .env file and the environment.
//
// Sources are layered in increasing precedence: file values, then
// variables from the .env file, then the process environment. Environment
// variables use the EXECKIT_ prefix with underscores separating nested keys:
//
//	EXECKIT_POOL_ATTEMPTS=20
//	EXECKIT_BACKENDS_SSH_HOST=broker-1
//
// # Usage
//
//	var cfg session.Config
//	err := config.LoadConfig("execkit", &cfg, config.WithConfigFile("execkit.yml"))
package config
