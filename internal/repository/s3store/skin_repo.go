// Package s3store stores skins as one JSON object per owner in an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/repository"
)

// ClientAPI is the subset of the S3 client the repository uses.
type ClientAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// SkinRepo implements SkinRepository on S3. Objects are named <prefix><owner>.json
// and hold the store API body.
type SkinRepo struct {
	Client ClientAPI
	Bucket string
	Prefix string
	now    func() time.Time
}

var _ repository.SkinRepository = (*SkinRepo)(nil)

// New loads the default AWS configuration and builds a repository on bucket.
func New(ctx context.Context, bucket, region, prefix string) (*SkinRepo, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewWithClient builds a repository on an existing client.
func NewWithClient(c ClientAPI, bucket, prefix string) *SkinRepo {
	return &SkinRepo{Client: c, Bucket: bucket, Prefix: prefix, now: time.Now}
}

func (r *SkinRepo) key(owner uuid.UUID) string { return r.Prefix + owner.String() + ".json" }

// Get loads owner's skin.
func (r *SkinRepo) Get(ctx context.Context, owner uuid.UUID) (*model.StoredSkin, error) {
	s, err := r.get(ctx, r.key(owner))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SkinRepo) get(ctx context.Context, key string) (model.StoredSkin, error) {
	resp, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return model.StoredSkin{}, errs.ErrNotFound
		}
		return model.StoredSkin{}, err
	}
	defer resp.Body.Close()

	var body convert.SkinJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.StoredSkin{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return convert.FromSkinJSON(body), nil
}

// Upsert writes owner's skin object.
func (r *SkinRepo) Upsert(ctx context.Context, owner uuid.UUID, s *model.StoredSkin) (time.Time, error) {
	rec := *s
	rec.OwnerID = owner.String()
	rec.UpdatedAt = r.now().UTC().Truncate(time.Second)
	b, err := json.Marshal(convert.ToSkinJSON(rec))
	if err != nil {
		return time.Time{}, err
	}
	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.Bucket),
		Key:         aws.String(r.key(owner)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return time.Time{}, err
	}
	return rec.UpdatedAt, nil
}

// Delete removes owner's skin object. S3 deletes are idempotent, so existence
// is checked first to report a missing record.
func (r *SkinRepo) Delete(ctx context.Context, owner uuid.UUID) error {
	key := r.key(owner)
	if _, err := r.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return errs.ErrNotFound
		}
		return err
	}
	_, err := r.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// List reads every object under the prefix. Objects that vanish between
// listing and reading are skipped.
func (r *SkinRepo) List(ctx context.Context) ([]model.StoredSkin, error) {
	var (
		out   []model.StoredSkin
		token *string
	)
	for {
		page, err := r.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.Bucket),
			Prefix:            aws.String(r.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			s, err := r.get(ctx, key)
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		if !aws.ToBool(page.IsTruncated) {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

