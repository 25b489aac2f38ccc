package models

import "errors"

// ErrRateLimited marks provider failures caused by throttling or exhausted quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// ChatMessage is a single turn of the conversation as sent by the client.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

// ChatRequest for the chat completion endpoint
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`
}

// Citation is a source document returned by the search extension.
type Citation struct {
	Content  string `json:"content,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	Filepath string `json:"filepath,omitempty"`
	ChunkID  string `json:"chunk_id,omitempty"`
}

// ChatCompletion is the normalized reply every LLM provider returns.
// Intent and Citations are empty when the provider has none.
type ChatCompletion struct {
	Content      string
	Intent       string
	Citations    []Citation
	FinishReason string
	Provider     string
	Model        string
}

// ChatResponse is returned to the browser. Its shape follows the
// OpenAI chat completion payload so the frontend can read choices[0].
type ChatResponse struct {
	ResponseID string       `json:"response_id,omitempty"`
	Model      string       `json:"model,omitempty"`
	Choices    []ChatChoice `json:"choices"`
}

type ChatChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

type AssistantMessage struct {
	Role    string          `json:"role"`
	Content string          `json:"content"`
	Context *MessageContext `json:"context,omitempty"`
}

// MessageContext carries the retrieval metadata of an assistant message.
type MessageContext struct {
	Citations []Citation `json:"citations"`
	Intent    string     `json:"intent,omitempty"`
}
