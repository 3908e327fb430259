package tokenizer

import (
	"fmt"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// tokenizerFile is the fast-tokenizer definition every supported repo ships
const tokenizerFile = "tokenizer.json"

// huggingFaceLoader downloads tokenizer.json from the Hub (or reuses the local
// cache) and builds the tokenizer from it. tokenizer_class is not consulted:
// Qwen2Tokenizer, LlamaTokenizer and PreTrainedTokenizerFast repos all load
// the same way.
func huggingFaceLoader(repoID, revision string, opts Options) Loader {
	return func() (EncodeFunc, error) {
		repo := hub.New(repoID)
		if opts.HuggingFaceToken != "" {
			repo = repo.WithAuth(opts.HuggingFaceToken)
		}
		if opts.CacheDir != "" {
			repo = repo.WithCacheDir(opts.CacheDir)
		}
		if revision != "" {
			repo = repo.WithRevision(revision)
		}

		path, err := repo.DownloadFile(tokenizerFile)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s from %s: %w", tokenizerFile, repoID, err)
		}

		// tokenizer_config.json only names special tokens; encoding works without it
		cfg, _ := tokenizers.GetConfig(repo)

		encode, err := loadTokenizerFile(cfg, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", repoID, err)
		}
		return encode, nil
	}
}

// loadTokenizerFile builds an encoder from a local tokenizer.json
func loadTokenizerFile(cfg *api.Config, path string) (EncodeFunc, error) {
	tok, err := hftokenizer.NewFromFile(cfg, path)
	if err != nil {
		return nil, err
	}

	// Encode does not add BOS/EOS, matching add_special_tokens=False
	return func(text string) ([]int, error) {
		return tok.Encode(text), nil
	}, nil
}
