package domain

// Session links a caller-side session to a remote workspace conversation.
type Session struct {
	PK             string
	SK             string
	SessionID      string
	Slug           string
	SpaceID        string
	ConversationID string
	LastActivity   string
	Turns          int
	TTL            int64
}

// Turn is a single persisted chat exchange.
type Turn struct {
	PK             string
	SK             string
	SessionID      string
	ConversationID string
	Query          string
	Outputs        int
	CreatedAt      string
	TTL            int64
}
