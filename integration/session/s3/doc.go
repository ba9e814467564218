// Package s3 stores sessions as objects in Amazon S3 or an S3-compatible
// service. Each session is one JSON object under a key prefix; Expire uses
// the object's LastModified time for inactivity and the decoded session for
// lifetime and maximum age.
//
//	h, err := s3.New(ctx, cfg.S3, s3.WithInactivityTimeout(settings.InactivityTimeout))
//	if err != nil {
//		return err
//	}
package s3
