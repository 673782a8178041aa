package domain

// ConversationMemory is the single running summary kept for a user. Summary is
// nil until the first successful turn.
type ConversationMemory struct {
	UserID  int64
	Summary *string
}
