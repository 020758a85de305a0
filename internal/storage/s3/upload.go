package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MinPartSize is the smallest part S3 accepts for a non-final part.
const MinPartSize = 5 << 20

// upload streams r to key. A body that fits in one part goes up with a
// single PutObject; anything larger becomes a multipart upload so at most
// one part is held in memory.
func (s *Store) upload(ctx context.Context, key string, r io.Reader) error {
	var buf bytes.Buffer
	more, err := s.fill(&buf, r)
	if err != nil {
		return err
	}
	if !more {
		return s.putSingle(ctx, key, buf.Bytes())
	}

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	parts, err := s.uploadParts(ctx, key, uploadID, &buf, r)
	if err == nil {
		_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(key),
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err == nil {
			return nil
		}
		err = fmt.Errorf("complete multipart upload: %w", err)
	}

	// The request context may be the reason for the failure.
	_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	var noSuchUpload *types.NoSuchUpload
	if abortErr != nil && !errors.As(abortErr, &noSuchUpload) {
		return errors.Join(err, fmt.Errorf("abort multipart upload: %w", abortErr))
	}
	return err
}

// fill reads up to one part from r into buf. more reports whether r may
// still hold data.
func (s *Store) fill(buf *bytes.Buffer, r io.Reader) (more bool, err error) {
	buf.Reset()
	n, err := io.CopyN(buf, r, s.partSize)
	switch {
	case errors.Is(err, io.EOF):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("read upload: %w", err)
	}
	return n == s.partSize, nil
}

// uploadParts sends buf as part 1, then keeps refilling it from r until r
// is drained.
func (s *Store) uploadParts(ctx context.Context, key string, uploadID *string, buf *bytes.Buffer, r io.Reader) ([]types.CompletedPart, error) {
	var parts []types.CompletedPart
	for number, more := int32(1), true; buf.Len() > 0; number++ {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          bytes.NewReader(buf.Bytes()),
			ContentLength: aws.Int64(int64(buf.Len())),
		})
		if err != nil {
			return nil, fmt.Errorf("upload part %d: %w", number, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})

		if !more {
			break
		}
		if more, err = s.fill(buf, r); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

func (s *Store) putSingle(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}
