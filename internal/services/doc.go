// Package services contains the application-layer orchestration between the
// transport surfaces (CLI, HTTP) and the license domain. Services own view
// models and presentation policy; domain rules live in internal/license.
package services
