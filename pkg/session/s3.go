package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	s3ExpiresMetaKey = "expires-at"
	s3VersionMetaKey = "snapshot-version"
)

// S3Store stores session snapshots as S3 objects. Expiration and the
// snapshot format version are recorded in object metadata and enforced on
// Load; pair the key prefix with a bucket lifecycle rule to reclaim storage
// for abandoned sessions.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	store := session.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "sessions/")
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	closed bool
}

// NewS3Store creates a new S3-backed snapshot store.
//
// Parameters:
//   - client: AWS S3 client from aws-sdk-go-v2
//   - bucket: S3 bucket name
//   - prefix: Key prefix for snapshots (e.g., "sessions/")
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save uploads the encoded snapshot with the expiration and format version
// recorded in metadata.
func (s *S3Store) Save(ctx context.Context, sessionID string, snap *Snapshot, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	data, err := snap.Encode()
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(sessionID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			s3ExpiresMetaKey: expiresAt.UTC().Format(time.RFC3339),
			s3VersionMetaKey: strconv.Itoa(snap.Version),
		},
	})
	return err
}

// Load retrieves and decodes a snapshot if the object exists and hasn't
// expired.
func (s *S3Store) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if s.closed {
		return nil, ErrStoreClosed{}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()

	if raw, ok := out.Metadata[s3ExpiresMetaKey]; ok {
		expiresAt, perr := time.Parse(time.RFC3339, raw)
		if perr == nil && time.Now().After(expiresAt) {
			return nil, nil
		}
	}

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// Delete removes a snapshot object.
func (s *S3Store) Delete(ctx context.Context, sessionID string) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	return err
}

// Touch rewrites the object metadata with a new expiration via a self-copy.
func (s *S3Store) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	key := s.key(sessionID)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata: map[string]string{
			s3ExpiresMetaKey: expiresAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return err
	}
	return nil
}

// SaveAll saves snapshots sequentially; S3 has no multi-object atomicity.
func (s *S3Store) SaveAll(ctx context.Context, snapshots map[string]StoredSnapshot) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	for id, sd := range snapshots {
		if err := s.Save(ctx, id, sd.Snap, sd.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the store as closed.
// Note: This does not release the underlying S3 client,
// as it may be shared with other components.
func (s *S3Store) Close() error {
	s.closed = true
	return nil
}
