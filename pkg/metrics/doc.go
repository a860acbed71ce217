/*
Package metrics defines lightd's Prometheus instrumentation: container
registry gauges, install duration/failure counters, port pool gauges,
firewall rule count, event hub drop/reconnect counters, billing sample
counters, and the HTTP/WebSocket adapter's request and connection
metrics. Handler returns the promhttp handler mounted at /metrics; Timer
is a small helper for recording a histogram observation at the end of a
call.

health.go carries a separate, generic component health checker (used by
the HTTP adapter's /healthz and /readyz endpoints) independent of the
Prometheus registry.
*/
package metrics
