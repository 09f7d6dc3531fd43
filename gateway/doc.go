// Package gateway is the bridge's HTTP surface.
//
// Routes:
//
//	GET /api/tags          JSON array of every cached key, ascending
//	GET /api/tags/*name    {"name": key, "value": v} or 404 {"error": "Tag '<key>' not found"}
//	GET /ws                WebSocket stream of "key = value" text frames
//	GET /                  the configured index.html, if present
//	GET /metrics           Prometheus exposition
//	GET /health            aggregated component health, 503 when unhealthy
//
// Keys contain '/', so the single-tag route uses a wildcard segment:
// GET /api/tags/Injection-E3/oee looks up "Injection-E3/oee".
//
// Reads go through the broadcaster's synchronized cache copy and never block
// the update path. CORS is permissive: any origin, method and header, with
// credentials allowed.
package gateway
