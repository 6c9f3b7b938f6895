package model

// User is the sender embedded in message listings.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Organization is the record held by the organization cache.
type Organization struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Website     string   `json:"website,omitempty"`
	Address     string   `json:"address,omitempty"`
	Location    string   `json:"location,omitempty"`
	Email       string   `json:"email,omitempty"`
	OwnerID     string   `json:"owner_id,omitempty"`
	MemberIDs   []string `json:"member_ids,omitempty"`
}

// Channel is one entry of the channel list cache.
type Channel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	IsEncrypted    bool   `json:"is_encrypted,omitempty"`
	OrganizationID string `json:"organisation_id,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
}

// Message is one entry of a channel's message list. Listings are
// newest-first and carry the sender, which change notifications omit.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	UserID    string `json:"user_id,omitempty"`
	User      *User  `json:"user,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}
