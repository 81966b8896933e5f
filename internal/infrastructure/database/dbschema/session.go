package dbschema

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"sidechat/internal/domain/session"
	"sidechat/internal/infrastructure/database"
)

func init() {
	database.RegisterSchemaForAutoMigrate(Session{})
}

// BaseModel carries the common persistence columns.
type BaseModel struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Session represents the database schema for durable conversation sessions.
type Session struct {
	BaseModel
	PublicID  string      `gorm:"type:varchar(50);uniqueIndex;not null"`
	ModelName string      `gorm:"type:varchar(100)"`
	APIMode   string      `gorm:"type:varchar(50)"`
	Question  string      `gorm:"type:text"`
	Records   JSONRecords `gorm:"type:jsonb"`
}

// JSONRecords is a custom type for []session.Record stored as JSON
type JSONRecords []session.Record

func (j JSONRecords) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONRecords) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// EtoD converts the domain session to its database schema.
func (s *Session) EtoD(entity *session.Session) {
	s.PublicID = entity.SessionID
	s.ModelName = entity.ModelName
	s.APIMode = entity.APIMode
	s.Question = entity.Question
	s.Records = JSONRecords(entity.Clone().ConversationRecords)
}

// DtoE converts the database schema back to the domain session.
func (s *Session) DtoE() *session.Session {
	return &session.Session{
		SessionID:           s.PublicID,
		ModelName:           s.ModelName,
		APIMode:             s.APIMode,
		Question:            s.Question,
		ConversationRecords: []session.Record(s.Records),
	}
}
