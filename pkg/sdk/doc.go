// Package sdk is a Go client for the llmgate HTTP API.
//
// Chat replies arrive as a stream of events: one session event, any number
// of token events, then exactly one done or error event.
//
//	client, _ := sdk.New("http://localhost:8080", sdk.WithToken(key))
//	stream, err := client.Chat(ctx, sdk.ChatRequest{Message: "Hello", Model: "gpt-4o-mini"})
//	if q, ok := sdk.IsQuotaExceeded(err); ok {
//	    log.Printf("quota: %s, retry at %s", q.Reason, q.ResetAt)
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Event().Text)
//	}
//
// Usage, Limits and the admin SetLimit call are plain JSON round trips.
package sdk
