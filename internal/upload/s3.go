package upload

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/tOgg1/fcompose/internal/config"
	"github.com/tOgg1/fcompose/internal/logging"
)

// S3ClientAPI is the subset of the S3 client used for multipart uploads.
type S3ClientAPI interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Transport uploads straight to a bucket with multipart uploads. The
// resume URL has the form s3://bucket/key?uploadId=ID.
type S3Transport struct {
	Client        S3ClientAPI
	Bucket        string
	Prefix        string
	PublicBaseURL string
	PartSize      int64
	logger        zerolog.Logger
}

// NewS3Transport loads AWS credentials the default way and returns a transport for cfg.
func NewS3Transport(ctx context.Context, cfg config.S3Config, partSize int64) (*S3Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
	}
	return &S3Transport{
		Client:        client,
		Bucket:        cfg.Bucket,
		Prefix:        cfg.Prefix,
		PublicBaseURL: publicBase,
		PartSize:      partSize,
		logger:        logging.Component("upload.s3"),
	}, nil
}

type s3Upload struct {
	bucket   string
	key      string
	uploadID string
}

func (u s3Upload) String() string {
	q := url.Values{"uploadId": {u.uploadID}}
	return (&url.URL{Scheme: "s3", Host: u.bucket, Path: "/" + u.key, RawQuery: q.Encode()}).String()
}

func parseS3Upload(raw string) (s3Upload, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return s3Upload{}, fmt.Errorf("parse resume url: %w", err)
	}
	up := s3Upload{bucket: u.Host, key: strings.TrimPrefix(u.Path, "/"), uploadID: u.Query().Get("uploadId")}
	if u.Scheme != "s3" || up.bucket == "" || up.key == "" || up.uploadID == "" {
		return s3Upload{}, fmt.Errorf("resume url %q is not an s3 multipart upload", logging.RedactURL(raw))
	}
	return up, nil
}

func (t *S3Transport) objectKey(req TransferRequest) string {
	id := req.Fingerprint
	if len(id) > 16 {
		id = id[:16]
	}
	return path.Join(t.Prefix, id, req.File.Name)
}

// Start runs the multipart upload, skipping parts already stored when
// resuming.
func (t *S3Transport) Start(ctx context.Context, req TransferRequest, progress ProgressFunc) (Result, error) {
	var (
		up   s3Upload
		done map[int32]types.Part
	)
	if req.ResumeURL != "" {
		parsed, err := parseS3Upload(req.ResumeURL)
		if err == nil {
			parts, listErr := t.listParts(ctx, parsed)
			if listErr == nil {
				up, done = parsed, parts
			} else {
				t.logger.Debug().Err(listErr).Msg("cannot resume multipart upload, starting over")
			}
		}
	}

	if up.uploadID == "" {
		key := t.objectKey(req)
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(t.Bucket),
			Key:    aws.String(key),
		}
		if req.File.Type != "" {
			input.ContentType = aws.String(req.File.Type)
		}
		out, err := t.Client.CreateMultipartUpload(ctx, input)
		if err != nil {
			return Result{}, fmt.Errorf("create multipart upload: %w", err)
		}
		up = s3Upload{bucket: t.Bucket, key: key, uploadID: aws.ToString(out.UploadId)}
		done = map[int32]types.Part{}
	}
	if req.OnNegotiated != nil {
		req.OnNegotiated(up.String())
	}

	partSize := t.PartSize
	if partSize <= 0 {
		partSize = 6 << 20
	}

	var (
		completed []types.CompletedPart
		sent      int64
		number    int32 = 1
	)
	for offset := int64(0); offset < req.File.Size || number == 1; offset += partSize {
		n := req.File.Size - offset
		if n > partSize {
			n = partSize
		}

		if part, ok := done[number]; ok && aws.ToInt64(part.Size) == n {
			completed = append(completed, types.CompletedPart{ETag: part.ETag, PartNumber: aws.Int32(number)})
		} else {
			out, err := t.Client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(up.bucket),
				Key:           aws.String(up.key),
				UploadId:      aws.String(up.uploadID),
				PartNumber:    aws.Int32(number),
				Body:          io.NewSectionReader(req.File.Data, offset, n),
				ContentLength: aws.Int64(n),
			})
			if err != nil {
				return Result{}, fmt.Errorf("upload part %d: %w", number, err)
			}
			completed = append(completed, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
		}

		sent += n
		if progress != nil {
			progress(sent, req.File.Size)
		}
		number++
	}

	_, err := t.Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(up.bucket),
		Key:             aws.String(up.key),
		UploadId:        aws.String(up.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return Result{}, fmt.Errorf("complete multipart upload: %w", err)
	}

	return Result{URL: t.publicURL(up.key), Filename: req.File.Name}, nil
}

func (t *S3Transport) listParts(ctx context.Context, up s3Upload) (map[int32]types.Part, error) {
	parts := make(map[int32]types.Part)
	var marker *string
	for {
		out, err := t.Client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(up.bucket),
			Key:              aws.String(up.key),
			UploadId:         aws.String(up.uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list parts: %w", err)
		}
		for _, p := range out.Parts {
			parts[aws.ToInt32(p.PartNumber)] = p
		}
		if !aws.ToBool(out.IsTruncated) {
			return parts, nil
		}
		marker = out.NextPartNumberMarker
	}
}

func (t *S3Transport) publicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(t.PublicBaseURL, "/") + "/" + strings.Join(segments, "/")
}

// Abort discards the multipart upload named by resumeURL.
func (t *S3Transport) Abort(ctx context.Context, resumeURL string) error {
	up, err := parseS3Upload(resumeURL)
	if err != nil {
		return err
	}
	_, err = t.Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(up.bucket),
		Key:      aws.String(up.key),
		UploadId: aws.String(up.uploadID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	return nil
}
