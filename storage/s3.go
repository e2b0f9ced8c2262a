package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Settings beschreibt einen S3-kompatiblen Endpunkt (z.B. Strato HiDrive, MinIO).
type S3Settings struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewS3Client(ctx context.Context, st S3Settings) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               st.Endpoint,
				SigningRegion:     st.Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(st.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(st.AccessKey, st.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// ObjectAPI ist der Teil des S3-Clients, den wir benutzen.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Bucket kapselt Upload und Rotation in einem Bucket.
type Bucket struct {
	API      ObjectAPI
	Name     string
	Endpoint string
}

// Upload lädt data hoch und gibt den Link zurück.
func (b *Bucket) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.API.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(b.Endpoint, "/"), b.Name, key), nil
}

// Rotate behält die keep neuesten Objekte unter prefix und löscht den Rest.
// Gibt die gelöschten Schlüssel zurück; einzelne Löschfehler brechen nicht ab.
func (b *Bucket) Rotate(ctx context.Context, prefix string, keep int) ([]string, error) {
	out, err := b.API.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Name),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Contents) <= keep {
		return nil, nil
	}

	objects := out.Contents
	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})

	var deleted []string
	var firstErr error
	for _, obj := range objects[keep:] {
		_, err := b.API.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.Name),
			Key:    obj.Key,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
			}
			continue
		}
		deleted = append(deleted, aws.ToString(obj.Key))
	}
	return deleted, firstErr
}
