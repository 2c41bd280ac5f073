package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader uploads a completed snapshot file to durable off-machine
// storage. NoopUploader is used when no S3 bucket is configured,
// keeping the system in local-only backup mode.
type Uploader interface {
	Upload(ctx context.Context, filePath string) error
}

// s3Client is the minimal minio.Client surface S3Uploader depends on,
// kept as an interface so tests can substitute a fake.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader uploads snapshots to S3-compatible storage (AWS S3, MinIO,
// R2, ...) under a fixed prefix.
type S3Uploader struct {
	client s3Client
	bucket string
}

// NewS3Uploader constructs an S3Uploader against an S3-compatible
// endpoint (internal/config's BackupConfig.S3Endpoint/S3Bucket).
func NewS3Uploader(endpoint, bucket, accessKey, secretKey string) (*S3Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return &S3Uploader{client: client, bucket: bucket}, nil
}

// Upload uploads the snapshot at filePath under "snapshots/<basename>".
func (u *S3Uploader) Upload(ctx context.Context, filePath string) error {
	key := "snapshots/" + filepath.Base(filePath)
	_, err := u.client.FPutObject(ctx, u.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload snapshot to S3: %w", err)
	}
	return nil
}

// NoopUploader is used when S3 storage is not configured; Upload is a
// no-op so the snapshot stays local-only in the backup directory.
type NoopUploader struct{}

func (NoopUploader) Upload(ctx context.Context, filePath string) error { return nil }

// PruneLocal removes snapshot files in dir older than maxAge. The backup
// Coordinator does not call it, so local snapshots accumulate unless a
// caller prunes them with it.
func PruneLocal(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read backup directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
