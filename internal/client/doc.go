// Package client talks to a running session's control port.
//
// Requests go through resty on a retryablehttp transport. Wait polls the
// health endpoint with retryablehttp until every autostart component is up.
//
// Example Usage:
//
//	c := client.New(client.Options{BaseURL: "http://localhost:8000", APIKey: key})
//	if err := c.Wait(ctx, time.Second); err != nil {
//		return err
//	}
//	grant, err := c.AcquireLease(ctx, "crawler-1", 5*time.Minute)
package client
