package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/infrastructure/auth"
	"github.com/erp/nfse-bridge/internal/infrastructure/persistence/models"
)

// GormCredentialRepository implements integration.CredentialStore using GORM.
// The client secret and both tokens are sealed with box before they are written.
type GormCredentialRepository struct {
	db  *gorm.DB
	box *auth.SecretBox
}

// NewGormCredentialRepository creates a new GormCredentialRepository
func NewGormCredentialRepository(db *gorm.DB, box *auth.SecretBox) *GormCredentialRepository {
	return &GormCredentialRepository{db: db, box: box}
}

// Get loads the credential of userKey
func (r *GormCredentialRepository) Get(ctx context.Context, userKey string) (*integration.Credential, error) {
	var model models.ErpCredentialModel
	if err := r.db.WithContext(ctx).Where("user_key = ?", userKey).First(&model).Error; err != nil {
		return nil, translateNotFound(err, "erp credential not found")
	}
	return r.toDomain(&model)
}

// Put inserts or replaces the credential row of credential.UserKey
func (r *GormCredentialRepository) Put(ctx context.Context, credential *integration.Credential) error {
	model, err := r.fromDomain(credential)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id", "client_secret", "access_token", "refresh_token",
			"expires_at", "active", "initial_order_number", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save erp credential: %w", err)
	}
	return nil
}

// Delete removes the credential row entirely. Deleting a missing row is not an error.
func (r *GormCredentialRepository) Delete(ctx context.Context, userKey string) error {
	if err := r.db.WithContext(ctx).Where("user_key = ?", userKey).Delete(&models.ErpCredentialModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete erp credential: %w", err)
	}
	return nil
}

func (r *GormCredentialRepository) fromDomain(c *integration.Credential) (*models.ErpCredentialModel, error) {
	now := time.Now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	secret, err := r.box.Seal(c.ClientSecret)
	if err != nil {
		return nil, err
	}
	access, err := r.box.Seal(c.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := r.box.Seal(c.RefreshToken)
	if err != nil {
		return nil, err
	}

	m := &models.ErpCredentialModel{
		ID:                 c.ID,
		UserKey:            c.UserKey,
		ClientID:           c.ClientID,
		ClientSecret:       secret,
		AccessToken:        access,
		RefreshToken:       refresh,
		Active:             c.Active,
		InitialOrderNumber: c.InitialOrderNumber,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
	if !c.ExpiresAt.IsZero() {
		expires := c.ExpiresAt
		m.ExpiresAt = &expires
	}
	return m, nil
}

func (r *GormCredentialRepository) toDomain(m *models.ErpCredentialModel) (*integration.Credential, error) {
	secret, err := r.box.Open(m.ClientSecret)
	if err != nil {
		return nil, err
	}
	access, err := r.box.Open(m.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := r.box.Open(m.RefreshToken)
	if err != nil {
		return nil, err
	}

	c := &integration.Credential{
		ID:                 m.ID,
		UserKey:            m.UserKey,
		ClientID:           m.ClientID,
		ClientSecret:       secret,
		AccessToken:        access,
		RefreshToken:       refresh,
		Active:             m.Active,
		InitialOrderNumber: m.InitialOrderNumber,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
	if m.ExpiresAt != nil {
		c.ExpiresAt = *m.ExpiresAt
	}
	return c, nil
}

// Ensure GormCredentialRepository implements integration.CredentialStore
var _ integration.CredentialStore = (*GormCredentialRepository)(nil)
