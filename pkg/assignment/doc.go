// Package assignment is the read model mapping roles to the users assigned to them.
//
// A user may hold several roles; each (user, role) pair is stored once with the
// time it was first assigned. The role engine reads counts from the index to
// fill Role.UserCount and moves every assignment to a replacement role when a
// role with users is deleted.
//
// Three implementations share the Index interface:
//
//   - MemoryIndex: process local, used by tests and the default CLI mode
//   - SQLIndex: the role_assignments table (PostgreSQL or SQLite)
//   - RedisIndex: hashes and sets in Redis, for deployments that share the index
package assignment
