// Package config provides configuration loading for memtopo.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEMTOPO_LOGGING_LEVEL, MEMTOPO_STORE_PATH, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config
