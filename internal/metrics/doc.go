/*
Package metrics provides Prometheus telemetry for remote archive fetches.

The Collector owns a private registry, so several collectors can coexist in
one process (and in tests). It implements the fetch.Telemetry interface:

	RecordOperation  one S3 request attempt, with its duration and status
	RecordFetch      the final outcome of one fetch call
	RecordError      a failure, labelled by error type
	UpdatePoolClients the number of regional clients in the connection pool

# Exported series

With the default namespace "carsource":

	carsource_fetch_attempts_total{operation,status}
	carsource_fetch_attempt_duration_seconds{operation}
	carsource_fetches_total{outcome}
	carsource_errors_total{operation,type}
	carsource_pool_clients

Outcomes are success, not_found, exhausted, format_error, canceled and
pool_error. Error types are the lower-cased SourceError code when one is
present, otherwise a coarse class derived from the error (timeout,
connection, not_found, permission, throttling, other).

# HTTP endpoint

Start serves the registry on Config.Path when Config.Port is non-zero, along
with /health and /debug/operations. A disabled collector accepts every call
and records nothing.
*/
package metrics
