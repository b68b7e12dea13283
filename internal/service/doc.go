// Package service is the composition root of the middleware.
//
// Overview
// New builds every process wide component exactly once: the shared Redis
// connections, the supervisor and scraper queues, the job archive, the pubsub
// broker, the platform semaphores and the channel lock, the platform
// submitters, the notifier and the shutdown hooks. Nothing below this package
// constructs its own dependencies, tests build isolated instances instead.
//
// Data flow:
//
//	trigger (http, cron, s3)
//	    |
//	    v
//	supervisor queue --> task.Supervisor --(QueueDispatcher)--> scraper queue
//	                                                                 |
//	                                                                 v
//	                       platform (ci, cluster) <-- task.Scraper <-+
//	                              |                       ^
//	                              v                       | pubsub messages
//	                        remote worker ----------------+
//
// Run starts the workers of both queues, the HTTP server and the optional
// cron trigger, and returns once the context is done or one of them failed.
// Close then runs the shutdown hooks: running scraper jobs release their
// platform lease and channel lock first, then the queues stop, then the
// archive and the Redis connections close.
//
// NewClient builds only the connections and the two queues, for commands that
// enqueue or control jobs without running any worker.
package service
