package entity

import "time"

type Player struct {
	ID   string `json:"id"`
	Mark string `json:"mark,omitempty"`
	Name string `json:"name,omitempty"`
}

// DisplayName falls back to "Player <mark>" until a name has been announced.
func (that *Player) DisplayName() string {
	if that.Name != "" {
		return that.Name
	}
	return "Player " + that.Mark
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsMine    bool      `json:"is_mine,omitempty"`
}
