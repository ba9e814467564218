// Package redis creates go-redis clients from a connection URL and verifies
// them with PING before returning, retrying transient failures.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	check := redis.Healthcheck(client)
//
// Both redis:// and rediss:// (TLS) URLs are accepted.
package redis
