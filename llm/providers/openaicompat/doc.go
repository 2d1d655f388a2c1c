// Package openaicompat implements llm.Provider for any service that speaks
// the OpenAI Chat Completions protocol.
//
// Hosted services (OpenAI, DeepSeek, Qwen, ...) and local inference servers
// differ only in base URL, default model and headers:
//
//	p, err := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.deepseek.com",
//	    DefaultModel: "deepseek-chat",
//	}, logger)
package openaicompat
