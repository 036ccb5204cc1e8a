package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()

	require.NoError(t, LoadConfig(dir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "SBODEMOFR", cfg.SAP.CompanyDB)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, 0.8, cfg.Workflow.IntentThreshold)
	assert.Equal(t, dir, GetProjectDir())

	// The defaults were persisted for the next run.
	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}

func TestLoadConfigReadsExistingFile(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()

	yaml := `
sap:
  base_url: https://sap.internal:50000/b1s/v1
  company_db: PRODDB
llm:
  provider: ollama
  model: llama3.1
workflow:
  intent_threshold: 0.9
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	require.NoError(t, LoadConfig(dir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "PRODDB", cfg.SAP.CompanyDB)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 0.9, cfg.Workflow.IntentThreshold)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	t.Setenv("SAP_COMPANY_DB", "ENVDB")
	t.Setenv("SAP_DEMO_MODE", "true")
	t.Setenv("LLM_PROVIDER", ProviderMock)

	require.NoError(t, LoadConfig(t.TempDir()))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "ENVDB", cfg.SAP.CompanyDB)
	assert.True(t, cfg.SAP.DemoMode)
	assert.Equal(t, ProviderMock, cfg.LLM.Provider)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()

	yaml := `
llm:
  provider: skynet
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	assert.Error(t, LoadConfig(dir))
}

func TestLoadConfigRejectsZeroAnalysisCadence(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()

	yaml := `
workflow:
  analysis_every_queries: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis_every_queries")
}

func TestGetConfigBeforeLoad(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	_, err := GetConfig()
	assert.Error(t, err)
}

func TestUpdateSAPValidatesAndPersists(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	sap := SAPConfig{
		BaseURL:        "https://other:50000/b1s/v1",
		CompanyDB:      "OTHERDB",
		Username:       "manager",
		RequestTimeout: 30 * time.Second,
		SessionTTL:     30 * time.Minute,
		CacheTTL:       time.Minute,
	}
	require.NoError(t, UpdateSAP(&sap))

	// A fresh load sees the update.
	ResetForTest()
	require.NoError(t, LoadConfig(dir))
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "OTHERDB", cfg.SAP.CompanyDB)

	bad := sap
	bad.BaseURL = "not-a-url"
	assert.Error(t, UpdateSAP(&bad))
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		SecretSAPPassword:  "hunter2",
		SecretAnthropicKey: "sk-ant-xxx",
	}

	assert.False(t, SecretsFileExists(dir))
	require.NoError(t, EncryptSecretsFile(dir, "master-password", secrets))
	assert.True(t, SecretsFileExists(dir))

	decrypted, err := DecryptSecretsFile(dir, "master-password")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)

	_, err = DecryptSecretsFile(dir, "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestSecretsFilePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"A": "1"}))

	info, err := os.Stat(filepath.Join(dir, ".sapassist", "secrets.json.enc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetSecretPrecedence(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	t.Setenv("SAP_PASSWORD", "from-env")
	v, err := GetSecret(SecretSAPPassword)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	// The decrypted file wins over the environment.
	SetDecryptedSecrets(map[string]string{SecretSAPPassword: "from-file"})
	v, err = GetSecret(SecretSAPPassword)
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	_, err = GetSecret("NOT_A_SECRET")
	assert.Error(t, err)
}
