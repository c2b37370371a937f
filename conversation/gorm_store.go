package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// conversationRecord is the GORM row for a conversation. Participants
// are stored as a JSON array; the set is small and only ever read whole.
type conversationRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	Participants   string `gorm:"type:text"`
	Topic          string `gorm:"size:255"`
	InitialContext []byte
	CreatedAt      time.Time
}

func (conversationRecord) TableName() string { return "conversations" }

// messageRecord is the GORM row for one message. Seq is the append
// order; uuids do not sort chronologically.
type messageRecord struct {
	Seq            int64  `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"uniqueIndex;size:64"`
	ConversationID string `gorm:"index;size:64"`
	AgentID        string `gorm:"size:64"`
	Content        string `gorm:"type:text"`
	Type           string `gorm:"size:16"`
	Timestamp      time.Time
}

func (messageRecord) TableName() string { return "messages" }

// GormStore persists conversations through GORM. Any dialect GORM
// supports works; tests use the pure-Go sqlite driver.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore migrates the schema and returns a store over db.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&conversationRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "conversation_store")),
	}, nil
}

// CreateConversation implements Store.
func (s *GormStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	rec, err := toRecord(conv)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing conversationRecord
		err := tx.Where("id = ?", conv.ID).First(&existing).Error
		if err == nil {
			return types.ConflictError("conversation already exists: " + conv.ID).WithEntity(conv.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check conversation %s: %w", conv.ID, err)
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to create conversation %s: %w", conv.ID, err)
		}
		return nil
	})
}

// GetConversation implements Store.
func (s *GormStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var rec conversationRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError("conversation", id)
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return fromRecord(&rec)
}

// AddParticipant implements Store.
func (s *GormStore) AddParticipant(ctx context.Context, conversationID, agentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec conversationRecord
		if err := tx.Where("id = ?", conversationID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NotFoundError("conversation", conversationID)
			}
			return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
		}

		conv, err := fromRecord(&rec)
		if err != nil {
			return err
		}
		if conv.HasParticipant(agentID) {
			return nil
		}
		conv.Participants = append(conv.Participants, agentID)

		encoded, err := json.Marshal(conv.Participants)
		if err != nil {
			return fmt.Errorf("failed to encode participants: %w", err)
		}
		return tx.Model(&conversationRecord{}).
			Where("id = ?", conversationID).
			Update("participants", string(encoded)).Error
	})
}

// AppendMessage implements Store.
func (s *GormStore) AppendMessage(ctx context.Context, msg *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&conversationRecord{}).
			Where("id = ?", msg.ConversationID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check conversation %s: %w", msg.ConversationID, err)
		}
		if count == 0 {
			return types.NotFoundError("conversation", msg.ConversationID)
		}

		rec := &messageRecord{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			AgentID:        msg.AgentID,
			Content:        msg.Content,
			Type:           string(msg.Type),
			Timestamp:      msg.Timestamp,
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to append message %s: %w", msg.ID, err)
		}
		return nil
	})
}

// History implements Store.
func (s *GormStore) History(ctx context.Context, conversationID string, since time.Time) ([]*Message, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&conversationRecord{}).
		Where("id = ?", conversationID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check conversation %s: %w", conversationID, err)
	}
	if count == 0 {
		return nil, types.NotFoundError("conversation", conversationID)
	}

	query := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq asc")
	if !since.IsZero() {
		query = query.Where("timestamp >= ?", since)
	}

	var recs []messageRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", conversationID, err)
	}

	out := make([]*Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, &Message{
			ID:             rec.ID,
			ConversationID: rec.ConversationID,
			AgentID:        rec.AgentID,
			Content:        rec.Content,
			Type:           MessageType(rec.Type),
			Timestamp:      rec.Timestamp,
		})
	}
	return out, nil
}

// Stats implements Store.
func (s *GormStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: make(map[MessageType]int64)}

	if err := s.db.WithContext(ctx).Model(&conversationRecord{}).
		Count(&stats.TotalConversations).Error; err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&messageRecord{}).
		Count(&stats.TotalMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	var rows []struct {
		Type  string
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&messageRecord{}).
		Select("type, count(*) as count").
		Group("type").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages by type: %w", err)
	}
	for _, row := range rows {
		stats.ByType[MessageType(row.Type)] = row.Count
	}
	return stats, nil
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(conv *Conversation) (*conversationRecord, error) {
	encoded, err := json.Marshal(conv.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode participants: %w", err)
	}
	return &conversationRecord{
		ID:             conv.ID,
		Participants:   string(encoded),
		Topic:          conv.Topic,
		InitialContext: []byte(conv.InitialContext),
		CreatedAt:      conv.CreatedAt,
	}, nil
}

func fromRecord(rec *conversationRecord) (*Conversation, error) {
	var participants []string
	if rec.Participants != "" {
		if err := json.Unmarshal([]byte(rec.Participants), &participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants for %s: %w", rec.ID, err)
		}
	}
	return &Conversation{
		ID:             rec.ID,
		Participants:   participants,
		Topic:          rec.Topic,
		InitialContext: types.Payload(rec.InitialContext),
		CreatedAt:      rec.CreatedAt,
	}, nil
}
