package s3

import (
	"context"
	"fmt"
	"testing"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"no such key", &s3types.NoSuchKey{}, true},
		{"not found", &s3types.NotFound{}, true},
		{"wrapped no such key", fmt.Errorf("get object: %w", &s3types.NoSuchKey{}), true},
		{"generic api no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"generic api not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"network", fmt.Errorf("connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFound(tt.err))
		})
	}
}

func TestConfig_UsePathStyle(t *testing.T) {
	assert.False(t, (&Config{}).UsePathStyle())
	assert.True(t, (&Config{ForcePathStyle: true}).UsePathStyle())
	assert.True(t, (&Config{Endpoint: "http://localhost:4566"}).UsePathStyle())
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)
	assert.Equal(t, 64, cfg.MaxIdleConnsPerHost)
	assert.Empty(t, cfg.Endpoint)
}

func TestNewClient_EmptyRegion(t *testing.T) {
	client, err := NewClient(context.Background(), "", NewDefaultConfig())
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "region cannot be empty")
}

func TestNewClient_StaticCredentials(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.AccessKeyID = "AKIDEXAMPLE"
	cfg.SecretAccessKey = "secret"

	client, err := NewClient(context.Background(), "eu-west-1", cfg)
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "eu-west-1", opts.Region)
	assert.False(t, opts.UsePathStyle)
	assert.Nil(t, opts.BaseEndpoint)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}
