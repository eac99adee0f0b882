package blobs

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/allankoechke/mantis-sub000/core/logger"
)

// S3Store keeps uploads in an S3 bucket under
// <keyPrefix>/<entity>/<name>. Credentials and region come from the
// default AWS config chain.
type S3Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	keyPrefix string
}

// NewS3Store returns an S3-backed store for the given bucket.
func NewS3Store(ctx context.Context, bucket, keyPrefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket must not be empty")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	logger.Default().Debugln("s3 blob store enabled, bucket:", bucket)
	return &S3Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}, nil
}

func (s *S3Store) key(entity, name string) string {
	return path.Join(s.keyPrefix, entity, Sanitize(name))
}

func (s *S3Store) Put(entity, name string, r io.Reader) error {
	_, err := s.uploader.Upload(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(entity, name)),
		Body:   r,
	})
	return err
}

func (s *S3Store) Get(entity, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(entity, name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out.Body, nil
}

func (s *S3Store) Delete(entity, name string) error {
	_, err := s.client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(entity, name)),
	})
	return err
}

// DeleteAll removes every object under the entity prefix, paging through
// the listing.
func (s *S3Store) DeleteAll(entity string) error {
	prefix := path.Join(s.keyPrefix, entity) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.TODO())
		if err != nil {
			return err
		}
		for _, object := range page.Contents {
			_, err = s.client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    object.Key,
			})
			if err != nil {
				logger.Default().WithError(err).Warnln("could not delete", *object.Key)
				return err
			}
		}
	}
	return nil
}
