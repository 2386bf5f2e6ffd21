package amqp

import (
	"encoding/json"
	"time"
)

// SearchLogMessage announces a stored lookup that still has to be appended to
// the search-log sheet. The worker loads the row from SQLite by ID.
type SearchLogMessage struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSearchLogMessage(id int64, studentID string) *SearchLogMessage {
	return &SearchLogMessage{
		ID:        id,
		StudentID: studentID,
		Timestamp: time.Now(),
	}
}

func (m *SearchLogMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SearchLogMessageFromJSON(data []byte) (*SearchLogMessage, error) {
	var msg SearchLogMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
