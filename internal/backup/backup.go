// Package backup implements A6: periodic upload of the control plane's
// SQLite database and market-data snapshot to an S3-compatible object store
// (AWS S3 or Cloudflare R2, reached through the same aws-sdk-go-v2 S3 API),
// archived as a timestamped tar.gz with a rotation policy that always keeps
// a minimum number of recent backups regardless of retention age.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// minBackupsToKeep is preserved regardless of retention age during rotation.
const minBackupsToKeep = 3

const objectPrefix = "tradecontrol-backup-"

// Config configures the S3/R2 client and archive contents.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for R2 / other S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int

	DatabasePath      string
	SnapshotCachePath string
}

// Metadata describes the files bundled into one backup archive.
type Metadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata records a single archived file's size and checksum.
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Info describes a backup object already stored in the bucket.
type Info struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// Service creates, uploads, lists, and rotates backup archives.
type Service struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	retain   int
	cfg      Config
	log      zerolog.Logger
}

// New builds a Service from static S3-compatible credentials. Passing a
// non-empty Endpoint targets an R2 (or other S3-compatible) account instead
// of AWS S3.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	retain := cfg.RetentionDays
	return &Service{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		retain:   retain,
		cfg:      cfg,
		log:      log.With().Str("component", "backup").Logger(),
	}, nil
}

// CreateAndUpload archives the database file (and the market-data snapshot,
// if present) and uploads it to the configured bucket.
func (s *Service) CreateAndUpload(ctx context.Context) error {
	start := time.Now()

	stagingDir, err := os.MkdirTemp("", "tradecontrol-backup-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	candidates := map[string]string{
		"tradecontrol.db": s.cfg.DatabasePath,
	}
	if s.cfg.SnapshotCachePath != "" {
		candidates["marketcache.snapshot"] = s.cfg.SnapshotCachePath
	}

	meta := Metadata{Timestamp: time.Now().UTC()}
	var archiveMembers []string
	for name, srcPath := range candidates {
		if _, err := os.Stat(srcPath); err != nil {
			continue // optional files (e.g. no snapshot yet) are skipped, not errors
		}
		dstPath := filepath.Join(stagingDir, name)
		if err := copyFile(srcPath, dstPath); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
		info, err := os.Stat(dstPath)
		if err != nil {
			return fmt.Errorf("stat staged %s: %w", name, err)
		}
		checksum, err := checksumFile(dstPath)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", name, err)
		}
		meta.Files = append(meta.Files, FileMetadata{Name: name, SizeBytes: info.Size(), Checksum: checksum})
		archiveMembers = append(archiveMembers, name)
	}
	if len(archiveMembers) == 0 {
		return fmt.Errorf("no backup sources present at configured paths")
	}

	metaPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metaPath, meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	archiveMembers = append(archiveMembers, "backup-metadata.json")

	key := fmt.Sprintf("%s%s.tar.gz", objectPrefix, time.Now().Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, key)
	if err := createArchive(archivePath, stagingDir, archiveMembers); err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   archiveFile,
	}); err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("key", key).
		Msg("backup uploaded")
	return nil
}

// List returns every backup object in the bucket, newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	now := time.Now()
	backups := make([]Info, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		ts, ok := parseBackupTimestamp(key)
		if !ok {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, Info{Key: key, Timestamp: ts, SizeBytes: size, AgeHours: int64(now.Sub(ts).Hours())})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// RotateOld deletes backups older than the configured retention window,
// always keeping at least minBackupsToKeep regardless of age.
func (s *Service) RotateOld(ctx context.Context) error {
	backups, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	var cutoff time.Time
	if s.retain > 0 {
		cutoff = time.Now().AddDate(0, 0, -s.retain)
	}

	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep {
			continue
		}
		if s.retain == 0 {
			continue
		}
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(b.Key)}); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("backup rotation complete")
	return nil
}

func parseBackupTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, objectPrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(key, objectPrefix), ".tar.gz")
	ts, err := time.Parse("2006-01-02-150405", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func createArchive(archivePath, sourceDir string, members []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gz := gzip.NewWriter(archiveFile)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range members {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return err
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{Name: nameInArchive, Size: info.Size(), Mode: int64(info.Mode()), ModTime: info.ModTime()}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
