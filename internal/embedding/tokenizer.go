package embedding

import (
	"errors"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer produces fixed-length model inputs.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64, err error)
}

// padTokens are tried in order to find the padding id of a loaded vocabulary.
var padTokens = []string{"<pad>", "[PAD]"}

// HFTokenizer encodes text with the tokenizer.json exported alongside a Hugging Face
// model, so input ids match the vocabulary the model was trained with.
type HFTokenizer struct {
	tk    *tokenizer.Tokenizer
	padID int64
}

// NewHFTokenizer loads the tokenizer definition at path.
func NewHFTokenizer(path string) (*HFTokenizer, error) {
	if path == "" {
		return nil, errors.New("tokenizer path is required")
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	t := &HFTokenizer{tk: tk}
	for _, tok := range padTokens {
		if id, ok := tk.TokenToId(tok); ok {
			t.padID = int64(id)
			break
		}
	}
	return t, nil
}

// Tokenize encodes text with the model's special tokens and fits it to maxTokens.
func (t *HFTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64, err error) {
	en, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenize: %w", err)
	}
	inputIDs, attentionMask = fitTokens(en.Ids, t.padID, maxTokens)
	return inputIDs, attentionMask, nil
}

// PadID returns the id used for padding positions.
func (t *HFTokenizer) PadID() int64 { return t.padID }

// fitTokens truncates ids to maxTokens, keeping the closing special token, and pads the
// rest with padID. The attention mask is 1 for real tokens.
func fitTokens(ids []int, padID int64, maxTokens int) (inputIDs, attentionMask []int64) {
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	for i := range inputIDs {
		inputIDs[i] = padID
	}
	n := min(len(ids), maxTokens)
	for i := 0; i < n; i++ {
		inputIDs[i] = int64(ids[i])
		attentionMask[i] = 1
	}
	if len(ids) > maxTokens && maxTokens > 0 {
		inputIDs[maxTokens-1] = int64(ids[len(ids)-1])
	}
	return inputIDs, attentionMask
}
