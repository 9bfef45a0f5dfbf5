// Package session holds conversation sessions: a mutable state mapping and
// the ordered event log for one (application, user, session) triple.
//
// Invariants:
// - Returned sessions are copies; callers never alias stored state.
// - Writes for the same session are serialized by a per-session lock.
// - UpdateState replaces the whole state mapping; there is no field-level update.
// - ListSessions returns sessions in creation order.
//
// Usage:
//
//	svc := session.NewInMemoryService()
//	sess, _ := svc.CreateSession(ctx, session.CreateRequest{AppName: "app", UserID: "u", State: session.State{"user_name": "Ada"}})
//	_, _ = svc.UpdateState(ctx, session.UpdateRequest{Key: sess.Key(), State: next})
package session
