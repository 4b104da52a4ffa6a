package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	qt "github.com/frankban/quicktest"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]string{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3SaveAndDelete(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3WithClient(fake, "reports", "/exports/", nil)

	uri, err := s.Save(ctx, "orders-42.xlsx", strings.NewReader("workbook"), ContentTypeXLSX)
	c.Assert(err, qt.IsNil)
	c.Assert(uri, qt.Equals, "s3://reports/exports/orders-42.xlsx")
	c.Assert(fake.objects["reports/exports/orders-42.xlsx"], qt.Equals, "workbook")
	c.Assert(fake.types["reports/exports/orders-42.xlsx"], qt.Equals, ContentTypeXLSX)

	c.Assert(s.Delete(ctx, uri), qt.IsNil)
	c.Assert(fake.objects, qt.HasLen, 0)
}

func TestS3DefaultContentType(t *testing.T) {
	c := qt.New(t)
	fake := newFakeS3()
	s := NewS3WithClient(fake, "reports", "", nil)

	uri, err := s.Save(context.Background(), "raw.bin", strings.NewReader("x"), "")
	c.Assert(err, qt.IsNil)
	c.Assert(uri, qt.Equals, "s3://reports/raw.bin")
	c.Assert(fake.types["reports/raw.bin"], qt.Equals, "application/octet-stream")
}

func TestS3Errors(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3WithClient(fake, "reports", "", nil)

	_, err := s.Save(ctx, "../x.xlsx", strings.NewReader("x"), ContentTypeXLSX)
	c.Assert(err, qt.ErrorIs, ErrInvalidName)

	c.Assert(s.Delete(ctx, "s3://other/key.xlsx"), qt.ErrorIs, ErrInvalidURI)
	c.Assert(s.Delete(ctx, "s3://reports/"), qt.ErrorIs, ErrInvalidURI)
	c.Assert(s.Delete(ctx, "file:///tmp/key.xlsx"), qt.ErrorIs, ErrInvalidURI)

	boom := errors.New("503 slow down")
	fake.putErr = boom
	_, err = s.Save(ctx, "a.xlsx", strings.NewReader("x"), ContentTypeXLSX)
	c.Assert(err, qt.ErrorIs, boom)
	c.Assert(err, qt.ErrorMatches, "failed to put object: 503 slow down")
}

func TestNewS3RequiresBucket(t *testing.T) {
	c := qt.New(t)
	_, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, nil)
	c.Assert(err, qt.ErrorMatches, "s3 storage: bucket is required")
}
