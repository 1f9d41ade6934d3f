// Package redis connects to the Redis server that backs the billing snapshot
// cache and the drift queue.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect retries the initial ping; Healthcheck plugs the client into the
// readiness probe.
package redis
