// Package config loads the warelay YAML configuration with environment
// variable expansion, duration-string parsing, defaulting, and validation.
package config
