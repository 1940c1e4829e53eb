// Package config loads billing engine configuration.
//
// Runtime configuration (ports, database, Redis, processor credentials,
// batch schedules) comes from environment variables with sensible defaults.
// Per-firm billing policy (mixed-invoice handling, tax rate, credit
// auto-application, autopay defaults) comes from a YAML policy file so
// operators can change firm behavior without a deploy.
package config
