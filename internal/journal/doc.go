// Package journal persists envelope traffic to PostgreSQL for audit and
// replay. Recording is strictly non-blocking: when the buffer is full,
// entries are dropped and counted rather than slowing the session.
package journal
