/*
Package api wires the daemon's engines onto an HTTP+WS surface.

Routing is a single chi.Router: a public ping, the WebSocket upgrade,
/metrics, /healthz and /readyz live outside auth, everything else under
/api/v1 is wrapped in auth.Middleware. Handlers stay thin — decode, call an engine, map the
error — business logic lives in the engine packages (registry, lifecycle,
power, netrebind, update, firewall, portpool, billing, auth).

Errors returned by any engine are *lightderr.Error values; writeError
maps their Kind to an HTTP status so handlers never hand-pick status
codes themselves.
*/
package api
