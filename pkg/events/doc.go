// Package events publishes billing domain events to a message broker.
//
// Publishers take a routing key and a JSON body. RabbitMQPublisher sends to a
// durable topic exchange; LogPublisher only logs and is used when no broker is
// configured; MemoryPublisher records messages for tests.
//
//	pub, err := events.NewRabbitMQPublisher(ctx, cfg, events.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer pub.Close()
//
//	err = events.PublishJSON(ctx, pub, "subscription.past_due", payload)
package events
