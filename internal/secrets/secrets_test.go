package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type mockSecretsManager struct {
	GetSecretValueFunc func(ctx context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
	calls              int
}

func (m *mockSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	return m.GetSecretValueFunc(ctx, in)
}

func TestInMemorySecretStore_SetAndGet(t *testing.T) {
	store := NewInMemorySecretStore()
	ctx := context.Background()

	store.SetSecret("api-key", "sk-test-123")

	value, err := store.GetSecret(ctx, "api-key")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if value != "sk-test-123" {
		t.Errorf("GetSecret() = %v, want sk-test-123", value)
	}

	store.DeleteSecret("api-key")
	if _, err := store.GetSecret(ctx, "api-key"); err == nil {
		t.Error("GetSecret() should return error after delete")
	}
}

func TestAWSSecretsManager_Caches(t *testing.T) {
	client := &mockSecretsManager{
		GetSecretValueFunc: func(ctx context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("sk-" + *in.SecretId)}, nil
		},
	}
	sm := NewAWSSecretsManagerWithClient(client)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := sm.GetSecret(context.Background(), "openai")
		if err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
		if v != "sk-openai" {
			t.Errorf("GetSecret() = %s", v)
		}
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}

	now = now.Add(6 * time.Minute)
	if _, err := sm.GetSecret(context.Background(), "openai"); err != nil {
		t.Fatal(err)
	}
	if client.calls != 2 {
		t.Errorf("calls after ttl = %d, want 2", client.calls)
	}

	sm.ClearCache()
	if _, err := sm.GetSecret(context.Background(), "openai"); err != nil {
		t.Fatal(err)
	}
	if client.calls != 3 {
		t.Errorf("calls after clear = %d, want 3", client.calls)
	}
}

func TestAWSSecretsManager_Error(t *testing.T) {
	sm := NewAWSSecretsManagerWithClient(&mockSecretsManager{
		GetSecretValueFunc: func(ctx context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
			return nil, errors.New("access denied")
		},
	})

	if _, err := sm.GetSecret(context.Background(), "missing"); err == nil {
		t.Error("expected error")
	}
}

func TestResolve(t *testing.T) {
	store := NewInMemorySecretStore()
	store.SetSecret("prod/openai", "sk-plain")
	store.SetSecret("prod/keys", `{"anthropic": "sk-ant", "deepseek": "sk-ds"}`)

	tests := []struct {
		name       string
		credential string
		want       string
		wantErr    bool
	}{
		{"literal", "sk-literal", "sk-literal", false},
		{"empty literal", "", "", false},
		{"reference", "secret:prod/openai", "sk-plain", false},
		{"json field", "secret:prod/keys#anthropic", "sk-ant", false},
		{"missing field", "secret:prod/keys#gemini", "", true},
		{"missing secret", "secret:prod/none", "", true},
		{"empty name", "secret:", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(context.Background(), store, tt.credential)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_NoStore(t *testing.T) {
	if _, err := Resolve(context.Background(), nil, "secret:x"); err == nil {
		t.Error("expected error without store")
	}
	if v, err := Resolve(context.Background(), nil, "sk-x"); err != nil || v != "sk-x" {
		t.Errorf("Resolve() = %q, %v", v, err)
	}
}
