// Package domain defines the core relay types and interfaces.
//
// Concept-oriented files (user.go, event.go, channel.go, conn.go, bus.go, errors.go)
// hold shared types and the contracts between the listener, the registry and sessions.
// No infrastructure code lives here.
package domain
