package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

// Track is one persisted queue entry. Rows are serialized to clients as-is,
// so the json tags are part of the wire protocol.
type Track struct {
	ID         int64  `json:"id"`
	GuildID    string `json:"guild_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	URI        string `json:"uri"`
	Author     string `json:"author"`
	Thumbnail  string `json:"thumbnail"`
	DurationMs int64  `json:"duration"`
	IsStream   bool   `json:"is_stream"`
	SourceName string `json:"source_name"`
	Identifier string `json:"identifier"`
	AddedBy    string `json:"added_by"`
	OrderIndex int    `json:"order_index"`
}
