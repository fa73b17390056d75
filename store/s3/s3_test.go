package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobg/habs"
	"github.com/bobg/habs/testutil"
)

// fakeS3 is an in-memory bucket implementing the calls Store makes.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFake() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func notFound(code string) error {
	return awserr.NewRequestFailure(awserr.New(code, "not found", nil), 404, "")
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound(s3.ErrCodeNoSuchKey)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[aws.StringValue(in.Key)] = b
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) && k > aws.StringValue(in.StartAfter) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	pageSize := int(aws.Int64Value(in.MaxKeys))
	for len(keys) > 0 {
		n := pageSize
		if n > len(keys) {
			n = len(keys)
		}
		page := &s3.ListObjectsV2Output{}
		for _, k := range keys[:n] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		keys = keys[n:]
		if !fn(page, len(keys) == 0) {
			break
		}
	}
	return nil
}

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New(newFake(), "test"))
}

func TestListRefs(t *testing.T) {
	testutil.ListRefs(context.Background(), t, New(newFake(), "test"))
}

func TestSetBlobSkipsExisting(t *testing.T) {
	var (
		ctx  = context.Background()
		fake = newFake()
		s    = New(fake, "test")
		blob = []byte("yubnub")
		ref  = habs.RefOf(blob)
	)

	require.NoError(t, s.SetBlob(ctx, ref, blob))
	require.NoError(t, s.SetBlob(ctx, ref, blob))
	assert.Equal(t, 1, fake.puts)

	got, err := s.GetBlob(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestNotFound(t *testing.T) {
	var (
		ctx = context.Background()
		s   = New(newFake(), "test")
		ref = habs.RefOf([]byte("missing"))
	)

	_, err := s.GetBlob(ctx, ref)
	assert.ErrorIs(t, err, habs.ErrNotFound)

	has, err := s.HasBlob(ctx, ref)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestKeys(t *testing.T) {
	ref := habs.RefOf([]byte("x"))
	got, err := refFromKey(blobKey(ref))
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	_, err = refFromKey("a:" + ref.String())
	assert.Error(t, err)
}
