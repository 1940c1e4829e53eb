// Package observability provides Prometheus metrics and health probes for
// the billing engine. Logging lives with logrus in each package; this
// package covers what operators scrape and probe.
package observability
