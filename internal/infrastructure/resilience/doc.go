/*
Package resilience provides restart backoff and a circuit breaker.

# Backoff

Backoff computes exponentially growing restart delays with a cap. The
supervisor asks it for the delay before the n-th restart of a component:

	b := resilience.Backoff{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}
	b.Delay(0) // 1s
	b.Delay(3) // 8s
	b.Delay(9) // 30s

# Circuit Breaker

The breaker guards a dependency that may be down, so callers fail fast
instead of piling up on it. The protocol bridge dials the framebuffer server
through one:

	breaker := resilience.New("framebuffer-upstream", resilience.Settings{
		Timeout: 2 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	err := breaker.Do(func() error { return dial() })

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
