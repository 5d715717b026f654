// Package config provides centralized configuration management for the
// codecontext CLI. Configuration is loaded from environment variables
// (CODECONTEXT_ prefix) with an optional YAML file as a lower-precedence
// source, and all filesystem paths are resolved relative to the current
// project's .codecontext directory.
package config
