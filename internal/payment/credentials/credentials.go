// Package credentials resolves payment rail credentials for a landlord,
// falling back to the platform-level credentials from configuration. The
// fallback order is explicit here rather than scattered across environment
// lookups.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/jenga"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/kopokopo"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/mpesa"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNoCredentials        = errors.New("provider_credentials_not_found")
	ErrEncryptionKeyMissing = errors.New("provider_config_secret_missing")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
)

// ProviderCredential stores one landlord's encrypted rail configuration.
type ProviderCredential struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	LandlordID snowflake.ID   `json:"landlord_id" gorm:"not null;uniqueIndex:idx_provider_credential"`
	Provider   string         `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_provider_credential"`
	Config     datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	IsActive   bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (ProviderCredential) TableName() string { return "landlord_provider_credentials" }

// Credentials is a decrypted rail configuration. LandlordID zero marks the
// platform fallback.
type Credentials struct {
	LandlordID snowflake.ID
	Provider   string
	Config     map[string]any
}

func (c Credentials) Platform() bool { return c.LandlordID == 0 }

type Service interface {
	// Resolve returns the landlord's credentials for the provider, or the
	// platform credentials when the landlord has none of their own.
	Resolve(ctx context.Context, landlordID snowflake.ID, provider string) (Credentials, error)
	// ListActive returns every candidate credential set for the provider,
	// landlord rows first, platform fallback last.
	ListActive(ctx context.Context, provider string) ([]Credentials, error)
	// Store encrypts and upserts a landlord's rail configuration.
	Store(ctx context.Context, landlordID snowflake.ID, provider string, cfg map[string]any) error
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	encKey   []byte
	platform map[string]map[string]any
}

func New(p Params) Service {
	var key []byte
	if secret := strings.TrimSpace(p.Cfg.ProviderConfigSecret); secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &service{
		db:       p.DB,
		log:      p.Log.Named("payment.credentials"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		encKey:   key,
		platform: platformConfigs(p.Cfg),
	}
}

var Module = fx.Module("payment.credentials",
	fx.Provide(New),
)

func platformConfigs(cfg config.Config) map[string]map[string]any {
	configs := map[string]map[string]any{}
	if cfg.MpesaConsumerKey != "" && cfg.MpesaPasskey != "" {
		configs[mpesa.Provider] = map[string]any{
			"consumer_key":    cfg.MpesaConsumerKey,
			"consumer_secret": cfg.MpesaConsumerSecret,
			"short_code":      cfg.MpesaShortCode,
			"passkey":         cfg.MpesaPasskey,
		}
	}
	if cfg.KopoKopoAPIKey != "" {
		configs[kopokopo.Provider] = map[string]any{"api_key": cfg.KopoKopoAPIKey}
	}
	if cfg.JengaAPIKey != "" {
		configs[jenga.Provider] = map[string]any{"api_key": cfg.JengaAPIKey}
	}
	return configs
}

func (s *service) Resolve(ctx context.Context, landlordID snowflake.ID, provider string) (Credentials, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	if landlordID != 0 {
		var row ProviderCredential
		err := s.db.WithContext(ctx).
			Where("landlord_id = ? AND provider = ? AND is_active = ?", landlordID, provider, true).
			First(&row).Error
		if err == nil {
			decrypted, err := s.decrypt(row.Config)
			if err != nil {
				return Credentials{}, err
			}
			return Credentials{LandlordID: landlordID, Provider: provider, Config: decrypted}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Credentials{}, err
		}
	}

	if cfg, ok := s.platform[provider]; ok {
		return Credentials{Provider: provider, Config: cfg}, nil
	}
	return Credentials{}, ErrNoCredentials
}

func (s *service) ListActive(ctx context.Context, provider string) ([]Credentials, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	var rows []ProviderCredential
	err := s.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", provider, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Credentials, 0, len(rows)+1)
	for _, row := range rows {
		decrypted, err := s.decrypt(row.Config)
		if err != nil {
			if errors.Is(err, ErrEncryptionKeyMissing) {
				return nil, err
			}
			s.log.Warn("skipping undecryptable provider config",
				zap.Int64("landlord_id", int64(row.LandlordID)),
				zap.String("provider", provider),
				zap.Error(err),
			)
			continue
		}
		out = append(out, Credentials{LandlordID: row.LandlordID, Provider: provider, Config: decrypted})
	}

	if cfg, ok := s.platform[provider]; ok {
		out = append(out, Credentials{Provider: provider, Config: cfg})
	}
	if len(out) == 0 {
		return nil, ErrNoCredentials
	}
	return out, nil
}

func (s *service) Store(ctx context.Context, landlordID snowflake.ID, provider string, cfg map[string]any) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || len(cfg) == 0 {
		return ErrInvalidConfig
	}

	sealed, err := s.encrypt(cfg)
	if err != nil {
		return err
	}

	var existing ProviderCredential
	err = s.db.WithContext(ctx).
		Where("landlord_id = ? AND provider = ?", landlordID, provider).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := ProviderCredential{
			ID:         s.genID.Generate(),
			LandlordID: landlordID,
			Provider:   provider,
			Config:     sealed,
			IsActive:   true,
		}
		return s.db.WithContext(ctx).Create(&row).Error
	case err != nil:
		return err
	default:
		return s.db.WithContext(ctx).
			Model(&ProviderCredential{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{"config": sealed, "is_active": true}).Error
	}
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (s *service) encrypt(cfg map[string]any) (datatypes.JSON, error) {
	if len(s.encKey) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	plain, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	return json.Marshal(sealed)
}

func (s *service) decrypt(encrypted datatypes.JSON) (map[string]any, error) {
	if len(s.encKey) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	if len(encrypted) == 0 {
		return nil, ErrInvalidConfig
	}

	var payload encryptedPayload
	if err := json.Unmarshal(encrypted, &payload); err != nil {
		return nil, ErrInvalidConfig
	}
	if payload.Version != 1 {
		return nil, ErrInvalidConfig
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidConfig
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidConfig
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, ErrInvalidConfig
	}
	if len(out) == 0 {
		return nil, ErrInvalidConfig
	}
	return out, nil
}
