/*
Package config provides configuration management for carsource.

Settings are layered, lowest priority first:

	Default values      NewDefault()
	Configuration file  LoadFromFile (YAML)
	Environment         LoadFromEnv (CARSOURCE_*)
	Command-line flags  applied by cmd/carsource

Call Validate after layering. Every failure is an *errors.SourceError with
code INVALID_CONFIG or CONFIG_LOAD.

# File format

	global:
	  log_level: INFO          # DEBUG, INFO, WARN, ERROR
	  log_format: text         # text or json
	  metrics_port: 0          # 0 disables the /metrics endpoint

	storage:
	  region: us-west-2
	  endpoint_url: ""         # e.g. http://localhost:9000 for MinIO
	  force_path_style: false  # implied by endpoint_url
	  max_retries: 3           # attempts per object, including the first
	  retry_delay: 500ms       # fixed wait between attempts
	  keep_alive: 60s
	  access_key_id: ""        # empty uses the default AWS credential chain
	  secret_access_key: ""

	monitoring:
	  metrics:
	    enabled: true
	    namespace: carsource
	    path: /metrics

# Environment

	CARSOURCE_LOG_LEVEL, CARSOURCE_LOG_FORMAT, CARSOURCE_METRICS_PORT
	CARSOURCE_REGION, CARSOURCE_ENDPOINT_URL, CARSOURCE_FORCE_PATH_STYLE
	CARSOURCE_MAX_RETRIES, CARSOURCE_RETRY_DELAY, CARSOURCE_KEEP_ALIVE
	CARSOURCE_ACCESS_KEY_ID, CARSOURCE_SECRET_ACCESS_KEY, CARSOURCE_SESSION_TOKEN
	CARSOURCE_METRICS_ENABLED, CARSOURCE_METRICS_NAMESPACE

A value that cannot be parsed is an error rather than being ignored.

S3Config, FetchConfig and MetricsConfig project the configuration onto the
settings each component takes.
*/
package config
