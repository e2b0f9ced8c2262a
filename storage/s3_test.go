package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	put     map[string][]byte
	listed  []types.Object
	deleted []string
	failOn  string
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.put == nil {
		f.put = map[string][]byte{}
	}
	f.put[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{Contents: f.listed}, nil
}

func (f *fakeObjects) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.failOn {
		return nil, errors.New("boom")
	}
	f.deleted = append(f.deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestBucketUpload(t *testing.T) {
	api := &fakeObjects{}
	b := &Bucket{API: api, Name: "exports", Endpoint: "https://s3.example.org/"}

	link, err := b.Upload(context.Background(), "p1/refs.bib", []byte("@misc{a}"), "application/x-bibtex")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.org/exports/p1/refs.bib", link)
	assert.Equal(t, "@misc{a}", string(api.put["p1/refs.bib"]))
}

func TestBucketRotate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obj := func(key string, day int) types.Object {
		return types.Object{Key: aws.String(key), LastModified: aws.Time(base.AddDate(0, 0, day))}
	}
	api := &fakeObjects{listed: []types.Object{obj("b1", 1), obj("b4", 4), obj("b2", 2), obj("b3", 3)}}
	b := &Bucket{API: api, Name: "backups"}

	deleted, err := b.Rotate(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b1"}, deleted)

	api = &fakeObjects{listed: []types.Object{obj("b1", 1), obj("b2", 2), obj("b3", 3)}, failOn: "b1"}
	b.API = api
	deleted, err = b.Rotate(context.Background(), "", 1)
	assert.Error(t, err)
	assert.Equal(t, []string{"b2"}, deleted)

	deleted, err = b.Rotate(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
