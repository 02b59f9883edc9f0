package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/gohome-spotify/internal/config"
)

var ErrMirrorNotFound = errors.New("mirrored oauth state not found")

// Mirror copies refresh state to remote storage so a lost config file does
// not force re-authorization.
type Mirror interface {
	Save(ctx context.Context, provider string, data []byte) error
}

// S3Store keeps one JSON object per provider under prefix in an S3 bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg config.MirrorConfig) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("oauth mirror needs endpoint and bucket")
	}
	creds, err := staticCredentials(cfg.AccessKeyFile, cfg.SecretKeyFile)
	if err != nil {
		return nil, err
	}
	host, secure, err := parseEndpoint(strings.TrimSpace(cfg.Endpoint))
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{Creds: creds, Secure: secure, Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("oauth mirror client: %w", err)
	}

	store := &S3Store{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}
	if store.prefix == "" {
		store.prefix = config.DefaultMirrorPrefix
	}
	return store, nil
}

func staticCredentials(accessKeyFile, secretKeyFile string) (*credentials.Credentials, error) {
	if accessKeyFile == "" || secretKeyFile == "" {
		return nil, fmt.Errorf("oauth mirror needs access_key_file and secret_key_file")
	}
	accessKey, err := readSecretFile(accessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob access key: %w", err)
	}
	secretKey, err := readSecretFile(secretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob secret key: %w", err)
	}
	return credentials.NewStaticV4(accessKey, secretKey, ""), nil
}

func (s *S3Store) Save(ctx context.Context, provider string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if _, err := s.client.PutObject(ctx, s.bucket, s.key(provider), bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return s.wrapError(err)
	}
	return nil
}

// Load fetches the mirrored state for provider.
func (s *S3Store) Load(ctx context.Context, provider string) (MirrorState, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(provider), minio.GetObjectOptions{})
	if err != nil {
		return MirrorState{}, s.wrapError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return MirrorState{}, s.wrapError(err)
	}
	return DecodeState(data)
}

func (s *S3Store) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "":
		return err
	case "NoSuchKey":
		return ErrMirrorNotFound
	default:
		return fmt.Errorf("s3 %s/%s: %s: %w", s.bucket, resp.Key, resp.Code, err)
	}
}

func (s *S3Store) key(provider string) string {
	return path.Join(s.prefix, provider+".json")
}

// parseEndpoint accepts host[:port] (TLS assumed) or a full http(s) URL.
func parseEndpoint(raw string) (string, bool, error) {
	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse oauth mirror endpoint: %w", err)
	}
	switch {
	case u.Host == "":
		return "", false, fmt.Errorf("oauth mirror endpoint %q has no host", raw)
	case u.Scheme != "http" && u.Scheme != "https":
		return "", false, fmt.Errorf("oauth mirror endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
	return u.Host, u.Scheme == "https", nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
