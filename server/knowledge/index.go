package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/teilomillet/chatguard/server/postprocess"
	"github.com/teilomillet/chatguard/server/storage"
)

// DefaultChunkSize is the exclusive upper bound on chunk length in characters.
const DefaultChunkSize = 500

var wordPattern = regexp.MustCompile(`\w+`)

// Keywords returns the distinct lower-cased words of text, sorted.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		seen[w] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// ChunkText packs whole sentences into chunks shorter than size
// characters. A sentence that alone reaches size is split into pieces.
func ChunkText(text string, size int) []string {
	if size <= 1 {
		size = DefaultChunkSize
	}
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if s := strings.TrimSpace(current); s != "" {
			chunks = append(chunks, s)
		}
		current = ""
	}

	for _, sent := range postprocess.SplitSentences(text) {
		for _, piece := range splitRunes(sent, size-1) {
			if utf8.RuneCountInString(current)+utf8.RuneCountInString(piece) < size {
				current += piece + " "
				continue
			}
			flush()
			current = piece + " "
		}
	}
	flush()
	return chunks
}

func splitRunes(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for len(runes) > n {
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// Result is a search hit.
type Result struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Text      string `json:"text"`
	Relevance int    `json:"relevance"`
}

// Index chunks documents into a ChunkStore and searches them.
type Index struct {
	store     storage.ChunkStore
	chunkSize int
	now       func() time.Time
}

// NewIndex creates an index over store.
func NewIndex(store storage.ChunkStore, chunkSize int) *Index {
	if chunkSize <= 1 {
		chunkSize = DefaultChunkSize
	}
	return &Index{store: store, chunkSize: chunkSize, now: time.Now}
}

// Add chunks text from source and stores the chunks for userID. It
// returns the number of chunks indexed.
func (ix *Index) Add(ctx context.Context, userID, source, text string) (int, error) {
	pieces := ChunkText(text, ix.chunkSize)
	if len(pieces) == 0 {
		return 0, nil
	}
	now := ix.now().UTC()
	chunks := make([]storage.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = storage.Chunk{
			ID:        uuid.NewString(),
			UserID:    userID,
			Source:    source,
			Text:      p,
			Keywords:  Keywords(p),
			CreatedAt: now,
		}
	}
	if err := ix.store.SaveChunks(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search ranks the user's chunks by how many distinct query words they
// contain and returns at most topK chunks that share at least one.
func (ix *Index) Search(ctx context.Context, userID, query string, topK int) ([]Result, error) {
	chunks, err := ix.store.Chunks(ctx, userID)
	if err != nil {
		return nil, err
	}
	words := Keywords(query)
	if len(words) == 0 || len(chunks) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(words))
	for _, w := range words {
		want[w] = struct{}{}
	}

	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		score := 0
		for _, k := range c.Keywords {
			if _, ok := want[k]; ok {
				score++
			}
		}
		if score == 0 {
			continue
		}
		results = append(results, Result{ID: c.ID, Source: c.Source, Text: c.Text, Relevance: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Context returns the text of the best matching chunks for query.
func (ix *Index) Context(ctx context.Context, userID, query string, topK int) ([]string, error) {
	hits, err := ix.Search(ctx, userID, query, topK)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return texts, nil
}

// StoredName builds the on-disk name of an upload: the user id, the unix
// time and the base name of the original file, joined by underscores.
// Directory components are removed so the result never escapes the
// upload directory.
func StoredName(userID, original string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", baseName(userID), now.Unix(), baseName(original))
}

func baseName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}

// Save writes data to dir/name, creating dir if needed.
func Save(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, baseName(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}
