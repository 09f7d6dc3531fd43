// Package health tracks the health of the bridge's components and aggregates
// them into one system status.
//
// Each component is either pushed into the Monitor with Update, or registered
// once as a Checker that the Monitor polls whenever the system status is
// requested:
//
//	monitor := health.NewMonitor()
//	monitor.Register("mqtt", func() health.Status {
//		if client.IsHealthy() {
//			return health.NewHealthy("mqtt", "Connected to broker")
//		}
//		return health.NewUnhealthy("mqtt", client.Status().String())
//	})
//
//	status := monitor.Check("sparkbridge")
//
// # Health States
//
// Healthy, degraded and unhealthy. An aggregate is unhealthy if any
// component is unhealthy, degraded if any is degraded, healthy otherwise.
//
// # Sanitization
//
// FromError strips URLs, paths, IP addresses, ports and credentials from
// error text before it lands in a status message, since /health is served
// without authentication.
package health
