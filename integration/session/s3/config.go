package s3

// Config contains configuration for the S3 session handler.
type Config struct {
	Bucket         string `env:"SESSION_S3_BUCKET"`
	Region         string `env:"SESSION_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"SESSION_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"SESSION_S3_SECRET_KEY"`
	Endpoint       string `env:"SESSION_S3_ENDPOINT"`                           // For S3-compatible services like MinIO
	ForcePathStyle bool   `env:"SESSION_S3_FORCE_PATH_STYLE" envDefault:"false"` // Required for MinIO
	Prefix         string `env:"SESSION_S3_PREFIX" envDefault:"sessions/"`
}
