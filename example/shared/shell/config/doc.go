// Package config reads the settings of the example application from the environment
// and builds the infrastructure they describe: the storage engine and the OpenTelemetry providers.
package config
