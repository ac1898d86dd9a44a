// Package gateway runs the converse-gateway servers.
//
// # Overview
//
// A Gateway owns the replay store, the conversation service and the network
// servers. New wires them from configuration; Run serves until its context is
// cancelled and then shuts everything down in order: HTTP, live streams,
// gRPC, running generation tasks, tailscale, the replay store.
//
// # Endpoints
//
//   - GET {server.stream_path}: websocket stream, one JSON envelope per frame
//   - GET /health: liveness, always "OK"
//   - GET /health/ready: 200 while the replay store answers a ping, else 503
//   - GET {metrics.path}: Prometheus exposition when metrics are enabled
//
// The gRPC server carries only grpc.health.v1.Health. It listens on
// server.grpc_addr, or on :50051 of the tailnet node when tailscale is
// enabled. The converse.Gateway service status follows the replay store.
//
// # Stream loop
//
// Each websocket connection runs one read loop. Frames that are not JSON or
// lack type and conversation_id are answered with an unsequenced error frame.
// Frames with an invalid payload get a sequenced error on the conversation
// they address. Everything else is handed to the conversation service, and
// the connection becomes that conversation's live peer. The connection stays
// open through all of these.
//
// # Maintenance
//
// Every replay.cleanup_interval the gateway evicts idle conversations, purges
// expired replay logs on backends that need it and refreshes the gRPC health
// status.
package gateway
