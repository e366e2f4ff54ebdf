// Package server implements the WebSocket relay core: connection handling,
// envelope dispatch, session tracking, and presence/group broadcasting.
//
// The implementation is organized into specialized files for configuration,
// hub management, the session registry, routing, clients, and HTTP handlers
// to keep the codebase maintainable and testable as the project grows.
package server
