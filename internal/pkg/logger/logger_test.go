package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "", RedactSecret(""))
	assert.Equal(t, "***", RedactSecret("short"))
	assert.Equal(t, "***", RedactSecret("12345678"))
	assert.Equal(t, "1//0***", RedactSecret("1//0abcdefghijklmnop"))
}

func TestRedactSecretValueMatchesKeyFragments(t *testing.T) {
	long := "ya29.a0AfB_secret_material"

	assert.Equal(t, "ya29***", redactSecretValue("access_token", long))
	assert.Equal(t, "ya29***", redactSecretValue("ClientSecret", long))
	assert.Equal(t, "ya29***", redactSecretValue("proxy_credentials", long))
	assert.Equal(t, long, redactSecretValue("channel_id", long))
	assert.Equal(t, long, redactSecretValue("status", long))
}
