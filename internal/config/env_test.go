package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvManager_EncryptedRoundTrip(t *testing.T) {
	em := NewEnvManager("test-master-key", "TREASURYD_TEST_")
	defer os.Unsetenv("TREASURYD_TEST_FRED_API_KEY")

	require.NoError(t, em.SetEncryptedString("FRED_API_KEY", "abc123secret"))

	// The stored value must not be the plaintext
	raw := os.Getenv("TREASURYD_TEST_FRED_API_KEY")
	assert.Contains(t, raw, "ENC:")
	assert.NotContains(t, raw, "abc123secret")

	assert.Equal(t, "abc123secret", em.GetEncryptedString("FRED_API_KEY", ""))
}

func TestEnvManager_PlainValuesPassThrough(t *testing.T) {
	em := NewEnvManager("test-master-key", "TREASURYD_TEST_")
	defer os.Unsetenv("TREASURYD_TEST_DB_PASSWORD")

	require.NoError(t, em.SetString("DB_PASSWORD", "plain"))
	assert.Equal(t, "plain", em.GetEncryptedString("DB_PASSWORD", "fallback"))
	assert.Equal(t, "fallback", em.GetEncryptedString("MISSING_KEY", "fallback"))
}

func TestEnvManager_TypedGetters(t *testing.T) {
	em := NewEnvManager("", "TREASURYD_TEST_")
	defer func() {
		os.Unsetenv("TREASURYD_TEST_REDIS_ENABLED")
		os.Unsetenv("TREASURYD_TEST_BREAKER_THRESHOLD")
		os.Unsetenv("TREASURYD_TEST_FETCH_TIMEOUT")
	}()

	os.Setenv("TREASURYD_TEST_REDIS_ENABLED", "true")
	os.Setenv("TREASURYD_TEST_BREAKER_THRESHOLD", "5")
	os.Setenv("TREASURYD_TEST_FETCH_TIMEOUT", "30s")

	assert.True(t, em.GetBool("REDIS_ENABLED", false))
	assert.False(t, em.GetBool("MISSING_FLAG", false))
	assert.Equal(t, 5, em.GetInt("BREAKER_THRESHOLD", 3))
	assert.Equal(t, 30*time.Second, em.GetDuration("FETCH_TIMEOUT", time.Second))
}
