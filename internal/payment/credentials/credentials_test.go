package credentials

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type credentialsFixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	service Service
}

func newCredentialsFixture(t *testing.T, cfg config.Config) *credentialsFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ProviderCredential{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Cfg: cfg})
	return &credentialsFixture{db: db, node: node, service: svc}
}

func platformConfig() config.Config {
	return config.Config{
		KopoKopoAPIKey:       "platform-kopokopo-key",
		JengaAPIKey:          "platform-jenga-key",
		ProviderConfigSecret: "unit-test-secret",
	}
}

func TestStoreAndResolve_Roundtrip(t *testing.T) {
	f := newCredentialsFixture(t, platformConfig())
	ctx := context.Background()
	landlordID := f.node.Generate()

	require.NoError(t, f.service.Store(ctx, landlordID, "kopokopo", map[string]any{
		"api_key": "landlord-key",
	}))

	creds, err := f.service.Resolve(ctx, landlordID, "kopokopo")
	require.NoError(t, err)
	assert.Equal(t, landlordID, creds.LandlordID)
	assert.False(t, creds.Platform())
	assert.Equal(t, "landlord-key", creds.Config["api_key"])

	// The stored row never carries the plaintext key.
	var row ProviderCredential
	require.NoError(t, f.db.First(&row, "landlord_id = ?", landlordID).Error)
	assert.NotContains(t, string(row.Config), "landlord-key")
}

func TestStore_UpsertsExistingRow(t *testing.T) {
	f := newCredentialsFixture(t, platformConfig())
	ctx := context.Background()
	landlordID := f.node.Generate()

	require.NoError(t, f.service.Store(ctx, landlordID, "kopokopo", map[string]any{"api_key": "first"}))
	require.NoError(t, f.service.Store(ctx, landlordID, "kopokopo", map[string]any{"api_key": "second"}))

	var count int64
	require.NoError(t, f.db.Model(&ProviderCredential{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	creds, err := f.service.Resolve(ctx, landlordID, "kopokopo")
	require.NoError(t, err)
	assert.Equal(t, "second", creds.Config["api_key"])
}

func TestResolve_FallsBackToPlatform(t *testing.T) {
	f := newCredentialsFixture(t, platformConfig())

	creds, err := f.service.Resolve(context.Background(), f.node.Generate(), "jenga")
	require.NoError(t, err)
	assert.True(t, creds.Platform())
	assert.Equal(t, "platform-jenga-key", creds.Config["api_key"])
}

func TestResolve_NoCredentialsAnywhere(t *testing.T) {
	f := newCredentialsFixture(t, config.Config{ProviderConfigSecret: "unit-test-secret"})

	_, err := f.service.Resolve(context.Background(), f.node.Generate(), "kopokopo")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestListActive_LandlordRowsBeforePlatform(t *testing.T) {
	f := newCredentialsFixture(t, platformConfig())
	ctx := context.Background()
	landlordID := f.node.Generate()

	require.NoError(t, f.service.Store(ctx, landlordID, "kopokopo", map[string]any{"api_key": "landlord-key"}))

	all, err := f.service.ListActive(ctx, "kopokopo")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, landlordID, all[0].LandlordID)
	assert.True(t, all[1].Platform())
	assert.Equal(t, "platform-kopokopo-key", all[1].Config["api_key"])
}

func TestStore_RequiresEncryptionKey(t *testing.T) {
	f := newCredentialsFixture(t, config.Config{KopoKopoAPIKey: "platform-kopokopo-key"})

	err := f.service.Store(context.Background(), f.node.Generate(), "kopokopo", map[string]any{"api_key": "x"})
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)
}

func TestStore_RejectsEmptyConfig(t *testing.T) {
	f := newCredentialsFixture(t, platformConfig())

	err := f.service.Store(context.Background(), f.node.Generate(), "kopokopo", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
