// Package config defines the torcrawler job configuration, its defaults,
// validation and the YAML loader.
package config
