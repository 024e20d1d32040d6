package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// unavailable tags a driver error as a durable store outage.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, chat.ErrStoreUnavailable, err)
}

// GormStore is the durable MessageStore backed by a SQL database.
type GormStore struct {
	db           *gorm.DB
	historyLimit int
	seq          *chat.IDSequence
}

// NewGormStore wraps an open database. historyLimit bounds ListByRoom.
func NewGormStore(db *gorm.DB, historyLimit int) *GormStore {
	if historyLimit <= 0 {
		historyLimit = DefaultBufferSize
	}
	return &GormStore{db: db, historyLimit: historyLimit, seq: chat.NewIDSequence()}
}

// Ping checks that the database answers.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// MaxID returns the highest stored message id, or 0 for an empty table.
func (s *GormStore) MaxID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).Select("MAX(id)").Row().Scan(&maxID); err != nil {
		return 0, unavailable("max id", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	s.seq.Observe(maxID.Int64)
	return maxID.Int64, nil
}

// Append implements MessageStore.
func (s *GormStore) Append(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	stored := msg.Clone()
	if stored.ID == 0 {
		stored.ID = s.seq.Next()
	} else {
		s.seq.Observe(stored.ID)
	}

	model := messageToModel(stored)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).Int64(logging.FieldMessageID, stored.ID).Msg("failed to insert message")
		return nil, unavailable("append", err)
	}
	return model.ToDomain(), nil
}

// FindByID implements MessageStore.
func (s *GormStore) FindByID(ctx context.Context, id int64) (*chat.Message, error) {
	var model MessageModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrNotFound
		}
		return nil, unavailable("find", err)
	}
	return model.ToDomain(), nil
}

// Update implements MessageStore as a read-modify-write inside a transaction.
// The row is read with SELECT ... FOR UPDATE so concurrent reactions on one
// message serialize instead of overwriting each other.
func (s *GormStore) Update(ctx context.Context, id int64, mutate Mutator) (*chat.Message, bool, error) {
	var (
		result  *chat.Message
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			return err
		}

		msg := model.ToDomain()
		changed = mutate(msg)
		result = msg
		if !changed {
			return nil
		}
		return tx.Model(&MessageModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"reactions": ReactionList(msg.Reactions),
			"read_by":   ReceiptList(msg.ReadBy),
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, chat.ErrNotFound
		}
		return nil, false, unavailable("update", err)
	}
	return result, changed, nil
}

// ListByRoom implements MessageStore. Only the most recent historyLimit
// messages are returned.
func (s *GormStore) ListByRoom(ctx context.Context, room string) ([]*chat.Message, error) {
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("room = ? AND is_private = ?", room, false).
		Order("id DESC").
		Limit(s.historyLimit).
		Find(&models).Error
	if err != nil {
		return nil, unavailable("list", err)
	}

	out := make([]*chat.Message, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
