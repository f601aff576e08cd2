// Package tools exposes the llmn service stack to MCP clients.
//
// The server speaks MCP over stdio and offers one tool per stack operation:
//
//   - service_list: every service with its mode and status
//   - service_status: refreshed container state of one service
//   - service_start, service_stop, service_restart: lifecycle operations
//   - service_dependents: services that transitively depend on one service
//   - service_endpoints: the host endpoints of one service
//
// Tools that take a service accept its id ("llmn/n8n") or its compose
// service name ("n8n") in the "service" argument. Responses are JSON text;
// failures are returned as tool errors rather than protocol errors.
package tools
