// Package redis stores sessions in Redis, one string key per session with a
// TTL that follows the session's expiry.
//
//	client, err := redisdb.Connect(ctx, cfg.Redis)
//	if err != nil {
//		return err
//	}
//	h, err := redis.New(client,
//		redis.WithPrefix("appserver:session:"),
//		redis.WithInactivityTimeout(settings.InactivityTimeout),
//	)
package redis
