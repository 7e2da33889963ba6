// Package objstore publishes finished dataset trees to S3-compatible storage.
package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/config"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Uploader struct {
	client *miniogo.Client
	bucket string
}

func NewUploader(cfg config.Storage) (*Uploader, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
	}
	return nil
}

// UploadFile puts one local file at key.
func (u *Uploader) UploadFile(ctx context.Context, key, localPath string) (int64, error) {
	info, err := u.client.FPutObject(ctx, u.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return info.Size, nil
}

// UploadTree mirrors root under prefix, one object per file, keys using '/'.
// It returns the number of objects and bytes uploaded. progress, if non-nil,
// is called after each object.
func (u *Uploader) UploadTree(ctx context.Context, root, prefix string, progress func()) (int, int64, error) {
	var count int
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		n, err := u.UploadFile(ctx, key, p)
		if err != nil {
			return err
		}
		count++
		total += n
		if progress != nil {
			progress()
		}
		return nil
	})
	return count, total, err
}

// ListKeys returns the object keys under prefix.
func (u *Uploader) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range u.client.ListObjects(ctx, u.bucket, miniogo.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func contentType(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
