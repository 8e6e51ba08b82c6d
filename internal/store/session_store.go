// Package store persists named session snapshots to Postgres so a review
// session can be resumed from another machine. It is the server-side
// equivalent of saving the snapshot document to a file.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SavedSession is one named snapshot document.
type SavedSession struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	PartCount int       `gorm:"not null" json:"part_count"`
	Document  []byte    `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SavedSession) TableName() string {
	return "saved_sessions"
}

// SessionStore is the snapshot repository.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Migrate creates the backing table.
func (s *SessionStore) Migrate() error {
	return s.db.AutoMigrate(&SavedSession{})
}

// Create stores a new snapshot document under a display name.
func (s *SessionStore) Create(ctx context.Context, name string, partCount int, document []byte) (*SavedSession, error) {
	saved := &SavedSession{
		ID:        uuid.New().String(),
		Name:      name,
		PartCount: partCount,
		Document:  document,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(saved).Error; err != nil {
		return nil, fmt.Errorf("create saved session: %w", err)
	}
	return saved, nil
}

// Get loads one snapshot with its document body.
func (s *SessionStore) Get(ctx context.Context, id string) (*SavedSession, error) {
	var saved SavedSession
	if err := s.db.WithContext(ctx).First(&saved, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("saved session not found: %w", err)
	}
	return &saved, nil
}

// List returns snapshot metadata, newest first, without document bodies.
func (s *SessionStore) List(ctx context.Context) ([]SavedSession, error) {
	var sessions []SavedSession
	err := s.db.WithContext(ctx).
		Select("id", "name", "part_count", "created_at", "updated_at").
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list saved sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a snapshot.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&SavedSession{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete saved session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("saved session %s not found", id)
	}
	return nil
}
