// Package manager is the inference facade: it ties the registry, the routing
// engine, the engine adapters and the process supervisors together. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: Config and package defaults.
//   - errors.go: InferenceError and helpers (IsShuttingDown, IsBackendNotFound).
//   - infer.go: Infer, routing plus dispatch with failover.
//   - load.go: LoadModel/Attach, spawn then model load then registration.
//   - unload.go: Unload and ShutdownAll.
//   - ports.go: port selection for spawned engines.
//   - status_report.go: Status and Backends reporting.
//
// External packages should use public methods only (New, Infer, LoadModel,
// Attach, Unload, ShutdownAll, Status, Backends, Ready).
package manager
