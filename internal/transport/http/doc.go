// Package http provides the local HTTP surface over the license service:
// activation, status, and authorization endpoints plus health and metrics.
// It exists for `codecontext serve`, which lets editor integrations query
// license state without shelling out to the CLI.
package http
