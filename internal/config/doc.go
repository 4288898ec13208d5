// Package config defines the settings used by the larmvakt binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds device identity, relay and ingestion connection
// parameters, and the initial monitoring settings.
package config
