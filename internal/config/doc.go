// Package config provides configuration loading and validation for the bird listener.
// It reads a YAML file on top of built-in defaults and validates every section before
// any pipeline stage is constructed.
package config
