// Package session coordinates chat sessions for concurrently connected clients.
//
// It tracks registered users, enforces unique display names, keeps each
// connection in at most one group and resolves who receives which event.
// Handlers never perform I/O: every command returns the deliveries the
// transport should perform, which keeps the coordinator deterministic and lets
// slow recipients stay outside every critical section.
package session
