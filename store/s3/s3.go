// Package s3 implements a blob store on Amazon S3
// or any service speaking its protocol.
package s3

import (
	"bytes"
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var (
	_ habs.Store  = &Store{}
	_ habs.Lister = &Store{}
)

// PageSize is the number of keys requested per listing call.
const PageSize = 1000

// Store is a blob store in an S3 bucket.
// Each blob is an object named "b:" followed by the hex of its ref.
type Store struct {
	client s3iface.S3API
	bucket string
}

// New produces a new Store using the given client and bucket.
func New(client s3iface.S3API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func (s *Store) GetBlob(ctx context.Context, ref habs.Ref) ([]byte, error) {
	key := blobKey(ref)
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, habs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting object %s", key)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	return b, errors.Wrapf(err, "reading object %s", key)
}

func (s *Store) HasBlob(ctx context.Context, ref habs.Ref) (bool, error) {
	key := blobKey(ref)
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "getting head of object %s", key)
	}
	return true, nil
}

// SetBlob writes b unless the object already exists.
// A racing duplicate write stores the same bytes.
func (s *Store) SetBlob(ctx context.Context, ref habs.Ref, b []byte) error {
	has, err := s.HasBlob(ctx, ref)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	key := blobKey(ref)
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(b),
	})
	return errors.Wrapf(err, "putting object %s", key)
}

// ListRefs calls f on each ref in the bucket greater than start, in order.
// S3 lists keys in byte order, which is ref order for same-length hex names.
func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	var ferr error
	params := &s3.ListObjectsV2Input{
		Bucket:     aws.String(s.bucket),
		Prefix:     aws.String("b:"),
		StartAfter: aws.String(blobKey(start)),
		MaxKeys:    aws.Int64(PageSize),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, params, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			ref, err := refFromKey(aws.StringValue(obj.Key))
			if err != nil {
				continue
			}
			if ferr = f(ref); ferr != nil {
				return false
			}
		}
		return true
	})
	if ferr != nil {
		return ferr
	}
	return errors.Wrap(err, "listing objects")
}

func (s *Store) String() string {
	return "s3:" + s.bucket
}

func isNotFound(err error) bool {
	var rerr awserr.RequestFailure
	if stderrs.As(err, &rerr) && rerr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	return stderrs.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound")
}

func blobKey(ref habs.Ref) string {
	return "b:" + ref.String()
}

func refFromKey(key string) (habs.Ref, error) {
	if !strings.HasPrefix(key, "b:") {
		return habs.Zero, errors.Errorf("malformed object key %s", key)
	}
	return habs.RefFromHex(key[2:])
}

func init() {
	store.Register("s3", func(ctx context.Context, conf map[string]interface{}) (habs.Store, error) {
		bucket, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		cfg := aws.NewConfig()
		if region, ok := conf["region"].(string); ok {
			cfg = cfg.WithRegion(region)
		}
		if endpoint, ok := conf["endpoint"].(string); ok {
			cfg = cfg.WithEndpoint(endpoint)
		}
		pathStyle, err := store.Bool(conf, "path_style", false)
		if err != nil {
			return nil, err
		}
		cfg = cfg.WithS3ForcePathStyle(pathStyle)

		sess, err := session.NewSession(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "creating aws session")
		}
		return New(s3.New(sess), bucket), nil
	})
}
