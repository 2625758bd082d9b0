package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var ErrMissingCredentials = errors.New("missing GCP credentials settings in secrets of this activity")

// LoadCredentials builds service account credentials out of the activity secrets.
// The lookup order is the service_account_file secret, then the
// GOOGLE_APPLICATION_CREDENTIALS and GCP_APPLICATION_CREDENTIALS environment
// variables, then the service_account_info secret.
func LoadCredentials(ctx context.Context, logger *zap.Logger, secrets Secrets) (*google.Credentials, error) {
	serviceAccountFile := secrets.String(SecretServiceAccountFile)

	if serviceAccountFile == "" {
		serviceAccountFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if serviceAccountFile == "" {
		serviceAccountFile = os.Getenv("GCP_APPLICATION_CREDENTIALS")
	}

	if serviceAccountFile != "" {
		path, err := expandHome(serviceAccountFile)
		if err != nil {
			return nil, err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, ActivityFailed(fmt.Sprintf("GCP account settings not found at %s", path))
		}

		logger.Debug("Using GCP credentials from file", zap.String("path", path))

		return google.CredentialsFromJSON(ctx, raw, cloudPlatformScope)
	}

	info, ok := secrets[SecretServiceAccountInfo].(map[string]any)
	if !ok || len(info) == 0 {
		return nil, ErrMissingCredentials
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("could not encode service account info: %w", err)
	}

	logger.Debug("Using GCP credentials embedded into secrets")

	return google.CredentialsFromJSON(ctx, raw, cloudPlatformScope)
}

// ClientOptions returns the options to hand to any GCP client constructor.
func ClientOptions(ctx context.Context, logger *zap.Logger, secrets Secrets) ([]option.ClientOption, error) {
	creds, err := LoadCredentials(ctx, logger, secrets)
	if err != nil {
		return nil, err
	}

	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
