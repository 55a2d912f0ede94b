// Package redis connects to Redis with go-redis/v9 and provides a
// distributed keylock.Locker.
//
// Connect retries until the server answers a ping; Healthcheck returns a probe
// for the HTTP health endpoint. Locker serializes work per key across service
// instances with SET NX PX and a token-checked release script:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	locker := redis.NewLocker(client, cfg)
//	ledger := subscription.NewLedger(store, subscription.WithLocker(locker))
//
// Configuration comes from REDIS_* environment variables, see Config.
package redis
