package backend

// Document is a file attached to a query.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// QueryRequest is the body of POST /query and POST /query/conversation.
type QueryRequest struct {
	Question        string    `json:"question"`
	UseHistory      bool      `json:"use_history"`
	SearchDocuments bool      `json:"search_documents"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	Document        *Document `json:"attached_document,omitempty"`
}

// QueryAnswer is the useful part of a successful query response.
type QueryAnswer struct {
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Encrypted      bool     `json:"encrypted,omitempty"`
}

// HistoryEntry is one stored question/answer pair.
type HistoryEntry struct {
	ID        string `json:"id,omitempty"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Conversation is a titled thread of messages.
type Conversation struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ModelRequest is the body of POST /model.
type ModelRequest struct {
	Model string `json:"model"`
}
