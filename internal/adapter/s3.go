package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"docvault/internal/dv"
)

// maxDeleteBatch is the DeleteObjects limit.
const maxDeleteBatch = 1000

// S3API is the subset of *s3.Client used by S3Adapter.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Adapter stores the tree in an S3 bucket. Logical paths become object
// keys below an optional prefix. Directories are zero-byte marker objects
// whose key ends in '/':
//
//	<prefix>/TypeA/          (directory marker)
//	<prefix>/TypeA/CA/
//	<prefix>/TypeA/CA/report.pdf
//
// Prefixes that hold objects but have no marker are still listed as
// directories, so buckets filled by other tools can be indexed.
type S3Adapter struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string // "" or "<prefix>/"
}

// NewS3Adapter creates an adapter over client for the given bucket. prefix
// may be empty.
func NewS3Adapter(client S3API, bucket, prefix string) *S3Adapter {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Adapter{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// objectKey returns the key of the object at index path p.
func (a *S3Adapter) objectKey(p string) string {
	return a.prefix + strings.TrimPrefix(p, "/")
}

// dirKey returns the key prefix for the children of index path p.
func (a *S3Adapter) dirKey(p string) string {
	if p == "" {
		return a.prefix
	}
	return a.objectKey(p) + "/"
}

// logicalPath maps an object key back to an index path.
func (a *S3Adapter) logicalPath(key string) string {
	return "/" + strings.TrimSuffix(strings.TrimPrefix(key, a.prefix), "/")
}

// copySource builds the URL-escaped CopySource for key.
func (a *S3Adapter) copySource(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return a.bucket + "/" + strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func s3Error(op, p string, err error) error {
	if isNotFound(err) {
		err = fmt.Errorf("%w: %w", dv.ErrNotFound, err)
	}
	return dv.NewStorageAdapterError(op, dv.AdapterPath(p), err)
}

func (a *S3Adapter) putMarker(ctx context.Context, p string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.dirKey(p)),
		Body:   bytes.NewReader(nil),
	})
	return err
}

// CreateDirectory writes a marker for p and for each of its ancestors.
func (a *S3Adapter) CreateDirectory(ctx context.Context, p string) error {
	cleaned, err := cleanLogical("mkdir", p)
	if err != nil {
		return err
	}
	segments := dv.SplitPath(cleaned)
	for i := range segments {
		dir := dv.JoinPath(segments[:i+1]...)
		if err := a.putMarker(ctx, dir); err != nil {
			return s3Error("mkdir", dir, err)
		}
	}
	return nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// CreateFile uploads r through the multipart upload manager.
func (a *S3Adapter) CreateFile(ctx context.Context, p string, r io.Reader) (int64, error) {
	cleaned, err := cleanLogical("write", p)
	if err != nil {
		return 0, err
	}
	if cleaned == "" {
		return 0, dv.NewStorageAdapterError("write", "/", fmt.Errorf("%w: the root is a directory", dv.ErrInvalidPath))
	}
	if parent := dv.ParentPath(cleaned); parent != "" {
		if err := a.CreateDirectory(ctx, parent); err != nil {
			return 0, err
		}
	}

	counter := &countingReader{r: r}
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(cleaned)),
		Body:   counter,
	})
	if err != nil {
		return 0, s3Error("write", cleaned, err)
	}
	return counter.n, nil
}

func (a *S3Adapter) headObject(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// hasChildren reports whether any object lives below the key prefix.
func (a *S3Adapter) hasChildren(ctx context.Context, prefix string) (bool, error) {
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

// IsFileExists checks the object, then the directory marker, then whether
// anything lives below the path.
func (a *S3Adapter) IsFileExists(ctx context.Context, p string) (bool, error) {
	cleaned, err := cleanLogical("stat", p)
	if err != nil {
		return false, err
	}
	if cleaned == "" {
		return true, nil
	}
	for _, key := range []string{a.objectKey(cleaned), a.dirKey(cleaned)} {
		ok, err := a.headObject(ctx, key)
		if err != nil {
			return false, s3Error("stat", cleaned, err)
		}
		if ok {
			return true, nil
		}
	}
	ok, err := a.hasChildren(ctx, a.dirKey(cleaned))
	if err != nil {
		return false, s3Error("stat", cleaned, err)
	}
	return ok, nil
}

// ListFiles pages through ListObjectsV2 with a '/' delimiter, yielding each
// page as it arrives.
func (a *S3Adapter) ListFiles(ctx context.Context, p string) iter.Seq2[dv.Entry, error] {
	return func(yield func(dv.Entry, error) bool) {
		cleaned, err := cleanLogical("list", p)
		if err != nil {
			yield(dv.Entry{}, err)
			return
		}
		prefix := a.dirKey(cleaned)

		paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(a.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})

		seen := false
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(dv.Entry{}, s3Error("list", cleaned, err))
				return
			}
			for _, cp := range page.CommonPrefixes {
				seen = true
				key := aws.ToString(cp.Prefix)
				if !yield(dv.Entry{Path: a.logicalPath(key), IsDir: true}, nil) {
					return
				}
			}
			for _, obj := range page.Contents {
				seen = true
				key := aws.ToString(obj.Key)
				if key == prefix {
					continue // the directory's own marker
				}
				entry := dv.Entry{Path: a.logicalPath(key), Size: aws.ToInt64(obj.Size)}
				if !yield(entry, nil) {
					return
				}
			}
		}

		if !seen && cleaned != "" {
			yield(dv.Entry{}, notFoundError("list", cleaned))
		}
	}
}

// keysBelow lists every key under prefix, without a delimiter.
func (a *S3Adapter) keysBelow(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (a *S3Adapter) deleteKeys(ctx context.Context, keys []string) error {
	for i := 0; i < len(keys); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+maxDeleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}
		result, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			e := result.Errors[0]
			return fmt.Errorf("deleting %s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return nil
}

func (a *S3Adapter) copyObject(ctx context.Context, from, to string) error {
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		CopySource: aws.String(a.copySource(from)),
		Key:        aws.String(to),
	})
	return err
}

// Move copies every object at or below src to dest and then deletes the
// originals. A failure part way leaves both copies in place.
func (a *S3Adapter) Move(ctx context.Context, src, dest string) error {
	from, err := cleanLogical("move", src)
	if err != nil {
		return err
	}
	to, err := cleanLogical("move", dest)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return dv.NewStorageAdapterError("move", dv.AdapterPath(from), fmt.Errorf("%w: cannot move the root", dv.ErrInvalidPath))
	}

	isFile, err := a.headObject(ctx, a.objectKey(from))
	if err != nil {
		return s3Error("move", from, err)
	}
	if parent := dv.ParentPath(to); parent != "" {
		if err := a.CreateDirectory(ctx, parent); err != nil {
			return err
		}
	}

	if isFile {
		if err := a.copyObject(ctx, a.objectKey(from), a.objectKey(to)); err != nil {
			return s3Error("move", from, err)
		}
		if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.objectKey(from)),
		}); err != nil {
			return s3Error("move", from, err)
		}
		return nil
	}

	srcPrefix, destPrefix := a.dirKey(from), a.dirKey(to)
	keys, err := a.keysBelow(ctx, srcPrefix)
	if err != nil {
		return s3Error("move", from, err)
	}
	if len(keys) == 0 {
		return notFoundError("move", from)
	}
	for _, key := range keys {
		if err := a.copyObject(ctx, key, destPrefix+strings.TrimPrefix(key, srcPrefix)); err != nil {
			return s3Error("move", a.logicalPath(key), err)
		}
	}
	if err := a.deleteKeys(ctx, keys); err != nil {
		return s3Error("move", from, err)
	}
	return nil
}

// Remove deletes the object at p and everything below it.
func (a *S3Adapter) Remove(ctx context.Context, p string) error {
	cleaned, err := cleanLogical("remove", p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return dv.NewStorageAdapterError("remove", "/", fmt.Errorf("%w: refusing to remove the storage root", dv.ErrInvalidPath))
	}

	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(cleaned)),
	}); err != nil && !isNotFound(err) {
		return s3Error("remove", cleaned, err)
	}

	keys, err := a.keysBelow(ctx, a.dirKey(cleaned))
	if err != nil {
		return s3Error("remove", cleaned, err)
	}
	if err := a.deleteKeys(ctx, keys); err != nil {
		return s3Error("remove", cleaned, err)
	}
	return nil
}

func (a *S3Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, err := cleanLogical("read", p)
	if err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(cleaned)),
	})
	if err != nil {
		return nil, s3Error("read", cleaned, err)
	}
	return out.Body, nil
}

// Compile-time check that S3Adapter implements dv.Adapter
var _ dv.Adapter = (*S3Adapter)(nil)
