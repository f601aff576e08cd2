// Package services provides the Service type, the unit every llmn command
// manipulates.
//
// A Service binds an immutable descriptor.Descriptor to a mutable State and to
// the behavior needed to run it: environment preparation, one-time init,
// start, stop, update and configure.
//
// # State
//
// State is plain data guarded by the Service's own lock. CheckState replaces
// the whole snapshot at once, so readers never see a half updated value. A
// failed status query only marks the raw state as "unknown"; Started and
// Health keep their last known values.
//
// Status derives a display value from State with a strict precedence:
//
//	disabled > running > unhealthy > started > ready > loaded
//
// # Results
//
// Operations return Result[T] carrying Success, Data, Err and the messages
// accumulated along the way. Expected failures never panic or exit; callers
// decide whether a failure is fatal.
//
// # Variants
//
// Services whose name matches a known variant (ollama, n8n) get extra
// behavior through the optional Configurer, Starter, EnvLoader and
// EndpointResolver capabilities.
package services
