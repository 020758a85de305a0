// Package s3 implements a storage driver backed by an S3 bucket.
//
// Folders are zero-byte marker objects whose key ends in "/"; a folder also
// exists implicitly when any object lies below its prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/storage"
)

// deleteBatch is the S3 limit for DeleteObjects.
const deleteBatch = 1000

// Options configures an S3 storage.
type Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
	// PartSize is the multipart chunk size in bytes; uploads larger than
	// one part are streamed in parts of this size.
	PartSize int64 `mapstructure:"part_size"`
}

// API is the subset of the S3 client the driver uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Store is a storage.Driver over one bucket and key prefix.
type Store struct {
	client   API
	bucket   string
	prefix   string
	partSize int64
}

var _ storage.Driver = (*Store)(nil)

// NewClient builds an S3 client from opts. Without static credentials the
// default AWS credential chain applies.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required: %w", apperr.ErrInvalidArgument)
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("s3: region is required: %w", apperr.ErrInvalidArgument)
	}

	configOptions := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// MinIO and Localstack need path-style addressing.
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New returns a driver using client.
func New(client API, bucket, keyPrefix string) *Store {
	prefix := strings.Trim(keyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, partSize: MinPartSize}
}

// WithPartSize sets the multipart chunk size. S3 rejects non-final parts
// smaller than MinPartSize.
func (s *Store) WithPartSize(n int64) *Store {
	if n > 0 {
		s.partSize = n
	}
	return s
}

// key maps an identifier ("/a/b.txt" or "/a/") to an object key.
func (s *Store) key(identifier string) string {
	return s.prefix + strings.TrimPrefix(identifier, "/")
}

// identifier is the inverse of key.
func (s *Store) identifier(key string) string {
	return "/" + strings.TrimPrefix(key, s.prefix)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *Store) head(ctx context.Context, identifier string) (storage.FileInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(identifier)),
	})
	if isNotFound(err) {
		return storage.FileInfo{}, fmt.Errorf("s3: %s: %w", identifier, apperr.ErrNotFound)
	}
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("s3: head %s: %w", identifier, err)
	}
	return storage.FileInfo{
		Identifier: identifier,
		Name:       storage.BaseName(identifier),
		Size:       aws.ToInt64(out.ContentLength),
		ModifiedAt: aws.ToTime(out.LastModified),
	}, nil
}

// hasPrefix reports whether any object lies at or below the folder key.
func (s *Store) hasPrefix(ctx context.Context, folder storage.Folder) (bool, error) {
	if folder.IsRoot() {
		return true, nil
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.key(folder.Identifier)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("s3: list %s: %w", folder.Identifier, err)
	}
	return len(out.Contents) > 0, nil
}

func (s *Store) requireFolder(ctx context.Context, folder storage.Folder) error {
	ok, err := s.hasPrefix(ctx, folder)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("s3: folder %s: %w", folder.Identifier, apperr.ErrNotFound)
	}
	return nil
}

// list walks the direct children of folder.
func (s *Store) list(ctx context.Context, folder storage.Folder, onFile func(types.Object), onFolder func(string)) error {
	folderKey := s.key(folder.Identifier)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(folderKey),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: list %s: %w", folder.Identifier, err)
		}
		for _, obj := range page.Contents {
			if aws.ToString(obj.Key) == folderKey {
				continue
			}
			onFile(obj)
		}
		for _, cp := range page.CommonPrefixes {
			onFolder(aws.ToString(cp.Prefix))
		}
	}
	return nil
}

func (s *Store) RootFolder() storage.Folder {
	return storage.RootFolder()
}

func (s *Store) HasFolderInFolder(ctx context.Context, name string, parent storage.Folder) (bool, error) {
	if err := storage.ValidateName(name); err != nil {
		return false, err
	}
	return s.hasPrefix(ctx, parent.Child(name))
}

func (s *Store) GetFolderInFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	ok, err := s.HasFolderInFolder(ctx, name, parent)
	if err != nil {
		return storage.Folder{}, err
	}
	if !ok {
		return storage.Folder{}, fmt.Errorf("s3: folder %s: %w", parent.Child(name).Identifier, apperr.ErrNotFound)
	}
	return parent.Child(name), nil
}

func (s *Store) CreateFolder(ctx context.Context, name string, parent storage.Folder) (storage.Folder, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.Folder{}, err
	}
	if err := s.requireFolder(ctx, parent); err != nil {
		return storage.Folder{}, err
	}
	child := parent.Child(name)

	if _, err := s.head(ctx, parent.FileIdentifier(name)); err == nil {
		return storage.Folder{}, fmt.Errorf("s3: create folder %s: %w", child.Identifier, apperr.ErrFolderConflict)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return storage.Folder{}, err
	}
	if ok, err := s.hasPrefix(ctx, child); err != nil {
		return storage.Folder{}, err
	} else if ok {
		return storage.Folder{}, fmt.Errorf("s3: create folder %s: %w", child.Identifier, apperr.ErrAlreadyExists)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(child.Identifier)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return storage.Folder{}, fmt.Errorf("s3: create folder %s: %w", child.Identifier, err)
	}
	return child, nil
}

func (s *Store) DeleteFolder(ctx context.Context, folder storage.Folder, recursive bool) error {
	if folder.IsRoot() {
		return fmt.Errorf("s3: delete root folder: %w", apperr.ErrPermissionDenied)
	}
	folderKey := s.key(folder.Identifier)

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(folderKey),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: list %s: %w", folder.Identifier, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("s3: folder %s: %w", folder.Identifier, apperr.ErrNotFound)
	}
	if !recursive && (len(keys) > 1 || keys[0] != folderKey) {
		return fmt.Errorf("s3: delete folder %s: not empty: %w", folder.Identifier, apperr.ErrConflict)
	}

	for i := 0; i < len(keys); i += deleteBatch {
		batch := keys[i:min(i+deleteBatch, len(keys))]
		objects := make([]types.ObjectIdentifier, len(batch))
		for j, k := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3: delete folder %s: %w", folder.Identifier, err)
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("s3: delete folder %s: %s: %s", folder.Identifier,
				aws.ToString(out.Errors[0].Key), aws.ToString(out.Errors[0].Message))
		}
	}
	return nil
}

func (s *Store) FileCount(ctx context.Context, folder storage.Folder) (int, error) {
	files, err := s.Files(ctx, folder)
	return len(files), err
}

func (s *Store) Subfolders(ctx context.Context, folder storage.Folder) ([]storage.Folder, error) {
	var out []storage.Folder
	err := s.list(ctx, folder, func(types.Object) {}, func(prefix string) {
		out = append(out, storage.FolderAt(s.identifier(prefix)))
	})
	return out, err
}

func (s *Store) Files(ctx context.Context, folder storage.Folder) ([]storage.FileInfo, error) {
	var out []storage.FileInfo
	err := s.list(ctx, folder, func(obj types.Object) {
		id := s.identifier(aws.ToString(obj.Key))
		out = append(out, storage.FileInfo{
			Identifier: id,
			Name:       storage.BaseName(id),
			Size:       aws.ToInt64(obj.Size),
			ModifiedAt: aws.ToTime(obj.LastModified),
		})
	}, func(string) {})
	return out, err
}

func (s *Store) HasFile(ctx context.Context, identifier string) (bool, error) {
	_, err := s.head(ctx, identifier)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Stat(ctx context.Context, identifier string) (storage.FileInfo, error) {
	return s.head(ctx, identifier)
}

func (s *Store) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(identifier)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3: open %s: %w", identifier, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3: open %s: %w", identifier, err)
	}
	return out.Body, nil
}

func (s *Store) Put(ctx context.Context, folder storage.Folder, name string, r io.Reader) (storage.FileInfo, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.FileInfo{}, err
	}
	if err := s.requireFolder(ctx, folder); err != nil {
		return storage.FileInfo{}, err
	}
	id := folder.FileIdentifier(name)
	if ok, err := s.hasPrefix(ctx, folder.Child(name)); err != nil {
		return storage.FileInfo{}, err
	} else if ok {
		return storage.FileInfo{}, fmt.Errorf("s3: put %s: is a folder: %w", id, apperr.ErrConflict)
	}

	if err := s.upload(ctx, s.key(id), r); err != nil {
		return storage.FileInfo{}, fmt.Errorf("s3: put %s: %w", id, err)
	}
	return s.head(ctx, id)
}

func (s *Store) Rename(ctx context.Context, identifier, newName string) (storage.FileInfo, error) {
	return s.Move(ctx, identifier, storage.ParentOf(identifier), newName)
}

func (s *Store) Move(ctx context.Context, identifier string, target storage.Folder, newName string) (storage.FileInfo, error) {
	if err := storage.ValidateName(newName); err != nil {
		return storage.FileInfo{}, err
	}
	if _, err := s.head(ctx, identifier); err != nil {
		return storage.FileInfo{}, err
	}
	if err := s.requireFolder(ctx, target); err != nil {
		return storage.FileInfo{}, err
	}
	newID := target.FileIdentifier(newName)
	if newID == identifier {
		return s.head(ctx, identifier)
	}
	if ok, err := s.HasFile(ctx, newID); err != nil {
		return storage.FileInfo{}, err
	} else if ok {
		return storage.FileInfo{}, fmt.Errorf("s3: move to %s: %w", newID, apperr.ErrAlreadyExists)
	}

	source := (&url.URL{Path: s.bucket + "/" + s.key(identifier)}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(newID)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("s3: copy %s to %s: %w", identifier, newID, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(identifier)),
	}); err != nil {
		return storage.FileInfo{}, fmt.Errorf("s3: delete %s after copy: %w", identifier, err)
	}
	return s.head(ctx, newID)
}

func (s *Store) Delete(ctx context.Context, identifier string) error {
	if _, err := s.head(ctx, identifier); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(identifier)),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", identifier, err)
	}
	return nil
}
