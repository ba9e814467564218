package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrymomot/appserver/core/logger"
	"github.com/dmitrymomot/appserver/core/session"
)

// Compile-time checks.
var (
	_ session.Handler    = (*Handler)(nil)
	_ session.Rehydrator = (*Handler)(nil)
)

// Client defines the S3 operations used by Handler.
type Client interface {
	GetObject(ctx context.Context, params *s3aws.GetObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3aws.DeleteObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3aws.ListObjectsV2Input, optFns ...func(*s3aws.Options)) (*s3aws.ListObjectsV2Output, error)
}

// metaLastActivity is the object metadata key carrying the session's last
// activity as RFC 3339.
const metaLastActivity = "last-activity"

// Handler stores one object per session under a key prefix.
type Handler struct {
	client            Client
	bucket            string
	prefix            string
	inactivityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// Option configures a Handler.
type Option func(*options)

type options struct {
	httpClient        *http.Client
	client            Client
	configOptions     []func(*config.LoadOptions) error
	clientOptions     []func(*s3aws.Options)
	inactivityTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

// WithClient sets a pre-configured S3 client.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithHTTPClient sets a custom HTTP client for S3 requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithConfigOption adds a custom AWS config option.
func WithConfigOption(option func(*config.LoadOptions) error) Option {
	return func(o *options) {
		o.configOptions = append(o.configOptions, option)
	}
}

// WithClientOption adds a custom S3 client option.
func WithClientOption(option func(*s3aws.Options)) Option {
	return func(o *options) {
		o.clientOptions = append(o.clientOptions, option)
	}
}

// WithInactivityTimeout makes Expire remove objects not written for longer than d.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.inactivityTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an S3 session handler. Without WithClient an AWS client is
// built from cfg, falling back to the default credential chain when no
// static keys are configured.
func New(ctx context.Context, cfg Config, opts ...Option) (*Handler, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}
		if o.httpClient != nil {
			awsOptions = append(awsOptions, config.WithHTTPClient(o.httpClient))
		}
		awsOptions = append(awsOptions, o.configOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client = s3aws.NewFromConfig(awsConfig, func(so *s3aws.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
			for _, opt := range o.clientOptions {
				opt(so)
			}
		})
	}

	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Handler{
		client:            client,
		bucket:            cfg.Bucket,
		prefix:            prefix,
		inactivityTimeout: o.inactivityTimeout,
		logger:            o.logger,
		now:               o.now,
	}, nil
}

// Key returns the object key used for id.
func (h *Handler) Key(id string) string {
	return h.prefix + id
}

// Load fetches and decodes the object for id. Corrupt objects are deleted
// and reported as session.ErrNotFound.
func (h *Handler) Load(ctx context.Context, id string) (*session.Session, error) {
	if !session.ValidID(id) {
		return nil, session.ErrInvalidID
	}
	return h.load(ctx, h.Key(id))
}

func (h *Handler) load(ctx context.Context, key string) (*session.Session, error) {
	out, err := h.client.GetObject(ctx, &s3aws.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyError(err, "get session")
	}
	defer func() { _ = out.Body.Close() }()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session object: %w", err)
	}

	s, err := session.Unmarshal(string(b))
	if err != nil {
		h.logger.WarnContext(ctx, "removing corrupt session object",
			logger.Component("session_s3_handler"),
			logger.Key("key", key),
			logger.Error(err))
		if delErr := h.delete(ctx, key); delErr != nil {
			return nil, delErr
		}
		return nil, session.ErrNotFound
	}
	return s, nil
}

// Save writes s as a JSON object.
func (h *Handler) Save(ctx context.Context, s *session.Session) error {
	id := s.ID()
	if !session.ValidID(id) {
		return session.ErrInvalidID
	}

	data, err := session.Marshal(s)
	if err != nil {
		return err
	}

	input := &s3aws.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(h.Key(id)),
		Body:        strings.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			metaLastActivity: s.LastActivity().Format(time.RFC3339Nano),
		},
	}
	if at := s.RetainUntil(h.now(), h.inactivityTimeout); !at.IsZero() {
		input.Expires = aws.Time(at)
	}

	if _, err := h.client.PutObject(ctx, input); err != nil {
		return classifyError(err, "put session")
	}
	return nil
}

// Delete removes the object for id.
func (h *Handler) Delete(ctx context.Context, id string) error {
	if !session.ValidID(id) {
		return session.ErrInvalidID
	}
	return h.delete(ctx, h.Key(id))
}

func (h *Handler) delete(ctx context.Context, key string) error {
	_, err := h.client.DeleteObject(ctx, &s3aws.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err := classifyError(err, "delete session"); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return nil
}

// Expire removes objects not written within the inactivity timeout and
// objects whose session is no longer resumable.
func (h *Handler) Expire(ctx context.Context) (int, error) {
	now := h.now()
	removed := 0

	err := h.list(ctx, func(key string, modified time.Time) error {
		stale := h.inactivityTimeout > 0 && now.Sub(modified) >= h.inactivityTimeout
		if !stale {
			s, err := h.load(ctx, key)
			switch {
			case errors.Is(err, session.ErrNotFound):
				return nil
			case err != nil:
				return err
			}
			stale = !s.Resumable(now)
		}
		if !stale {
			return nil
		}
		if err := h.delete(ctx, key); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// LoadRecent returns sessions whose objects were written at or after since.
func (h *Handler) LoadRecent(ctx context.Context, since time.Time) ([]*session.Session, error) {
	var out []*session.Session
	err := h.list(ctx, func(key string, modified time.Time) error {
		if modified.Before(since) {
			return nil
		}
		s, err := h.load(ctx, key)
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// list calls fn for every object under the prefix, following continuation
// tokens.
func (h *Handler) list(ctx context.Context, fn func(key string, modified time.Time) error) error {
	input := &s3aws.ListObjectsV2Input{
		Bucket: aws.String(h.bucket),
		Prefix: aws.String(h.prefix),
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := h.client.ListObjectsV2(ctx, input)
		if err != nil {
			return classifyError(err, "list sessions")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !session.ValidID(strings.TrimPrefix(key, h.prefix)) {
				continue
			}
			if err := fn(key, aws.ToTime(obj.LastModified)); err != nil {
				return err
			}
		}

		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}
