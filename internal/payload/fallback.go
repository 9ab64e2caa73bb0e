package payload

import "fmt"

// FallbackResponse is the deterministic offline answer used when every
// recovery attempt has failed: the backend answered but nothing parseable
// came out of it. Pure function of the query; no I/O, never fails.
func FallbackResponse(query string) string {
	return fmt.Sprintf(`I'm answering in demo mode because the City Brain analysis backend did not return a readable result.

To get live urban-planning analysis:
  1. Deploy the Modal app:  modal deploy citybrain/modal_app.py
  2. Make sure the app's API keys (OpenAI, Pinecone) are configured
  3. Resubmit your question once the deployment is live

Your question was: %q`, query)
}
