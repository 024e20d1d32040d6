package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// RoomRepository persists room counters for the room directory.
type RoomRepository interface {
	Seed(ctx context.Context, seeds []chat.RoomSeed) error
	List(ctx context.Context) ([]chat.RoomSummary, error)
	Save(ctx context.Context, room chat.RoomSummary) error
}

// ParticipantRepository persists who has been online.
type ParticipantRepository interface {
	Upsert(ctx context.Context, p chat.Participant) error
	MarkOffline(ctx context.Context, connectionID string) error
}

// GormRoomRepository implements RoomRepository.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a gorm-backed room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// Seed creates missing rooms without touching existing counters.
func (r *GormRoomRepository) Seed(ctx context.Context, seeds []chat.RoomSeed) error {
	now := time.Now().UTC()
	for _, s := range seeds {
		model := RoomModel{Name: s.Name, Description: s.Description, LastActivity: now}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description"}),
		}).Create(&model).Error
		if err != nil {
			return unavailable("seed rooms", err)
		}
	}
	return nil
}

// List returns every persisted room.
func (r *GormRoomRepository) List(ctx context.Context) ([]chat.RoomSummary, error) {
	var models []RoomModel
	if err := r.db.WithContext(ctx).Order("last_activity DESC").Find(&models).Error; err != nil {
		return nil, unavailable("list rooms", err)
	}
	out := make([]chat.RoomSummary, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// Save upserts the counters of one room. The stored count never decreases.
func (r *GormRoomRepository) Save(ctx context.Context, room chat.RoomSummary) error {
	model := RoomModel{
		Name:         room.Name,
		Description:  room.Description,
		MessageCount: room.MessageCount,
		LastActivity: room.LastActivity.UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_activity": model.LastActivity,
			"message_count": gorm.Expr("CASE WHEN rooms.message_count < ? THEN ? ELSE rooms.message_count END", model.MessageCount, model.MessageCount),
		}),
	}).Create(&model).Error
	if err != nil {
		return unavailable("save room", err)
	}
	return nil
}

// GormParticipantRepository implements ParticipantRepository.
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository creates a gorm-backed participant repository.
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	return &GormParticipantRepository{db: db}
}

// Upsert records the participant as online.
func (r *GormParticipantRepository) Upsert(ctx context.Context, p chat.Participant) error {
	model := ParticipantModel{
		ConnectionID: p.ConnectionID,
		Username:     p.Username,
		Online:       true,
		JoinedAt:     p.JoinedAt.UTC(),
		LastSeen:     time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "online", "joined_at", "last_seen"}),
	}).Create(&model).Error
	if err != nil {
		return unavailable("upsert participant", err)
	}
	return nil
}

// MarkOffline flags the participant as gone.
func (r *GormParticipantRepository) MarkOffline(ctx context.Context, connectionID string) error {
	err := r.db.WithContext(ctx).Model(&ParticipantModel{}).
		Where("connection_id = ?", connectionID).
		Updates(map[string]interface{}{"online": false, "last_seen": time.Now().UTC()}).Error
	if err != nil {
		return unavailable("mark participant offline", err)
	}
	return nil
}
