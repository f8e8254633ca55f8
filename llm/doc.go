// Package llm is the completion collaborator used by the assistant: an
// ordered conversation goes in, assistant text comes out.
//
// A Client routes requests to a named ProviderAdapter and runs them through
// middleware. The GollmAdapter backs every provider gollm supports (groq by
// default). All failures surface as *CompletionError with a Kind that callers
// can branch on; the client performs no automatic retries unless
// RetryMiddleware is installed.
//
//	adapter, _ := llm.NewGollmAdapter("groq", os.Getenv("GROQ_API_KEY"))
//	client := llm.NewClient(llm.WithProvider("groq", adapter))
//
//	resp, err := client.Complete(ctx, llm.Request{
//	    Messages: []llm.Message{llm.UserMessage("Hello")},
//	})
package llm
