// Package session holds the live state of agent conversations.
//
// Invariants:
// - A session runs at most one agent loop at a time (TryStart/Finish).
// - In-memory history order equals persisted order; Append persists first.
// - A deleted session rejects appends and never starts another run.
//
// Usage:
//
//	reg := session.NewRegistry()
//	s := reg.Create(session.DefaultOptions(), apiKey)
//	_ = s.Append(session.Turn{Role: session.RoleUser, Content: []session.ContentBlock{session.TextBlock("hi")}}, persist)
//	if s.TryStart() {
//		defer s.Finish()
//	}
package session
