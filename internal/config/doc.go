// Package config loads the VelocityVault JSON configuration, fills defaults
// for the clearnode sandbox and overlays deployment secrets from the
// environment.
package config
