// Command mock-llm is the offline model host used by wiring tests. It
// serves OpenAI-compatible /v1/chat/completions replies from JSON fixture
// files routed by the "model" field, and a deterministic /embed endpoint
// speaking the embedding sidecar protocol, so a full pipeline run needs no
// real model host and no network.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434 -dims 384
//
// A fixture file is named after its model: "mock-classifier.json" answers
// model "mock-classifier". A fixture holding a bare JSON string is
// delivered unquoted, which is how synthesis prose rides in a .json file.
//
// Numbered fixtures replay call sequences: with "mock-extractor.1.json"
// and "mock-extractor.2.json" present, the first call gets .1, the second
// gets .2, and later calls repeat the base "mock-extractor.json" (or the
// last numbered file when no base exists). Repair-retry loops are tested
// by making .1 malformed and .2 valid.
//
// Embedding vectors are seeded from a hash of each text: identical text
// embeds identically, so cache and dedup behavior is assertable.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Wire types for the OpenAI chat-completions surface. Field names are
// fixed by the protocol.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Wire types for the embedding sidecar surface, mirroring embedding/client.go.

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model,omitempty"`
}

// capturedRequest is what /requests hands back for prompt verification.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-model call number
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]string // model name -> ordered fixture contents
	dims     int
	calls    atomic.Int64 // completion calls served
	embeds   atomic.Int64 // texts embedded

	mu       sync.Mutex
	perModel map[string]*modelState
}

// modelState tracks one model's call count (drives sequential fixture
// selection) and its captured requests.
type modelState struct {
	calls    int64
	captured []capturedRequest
}

func newServer(fixtures map[string][]string, dims int) *server {
	return &server{
		fixtures: fixtures,
		dims:     dims,
		perModel: make(map[string]*modelState),
	}
}

// record bumps the model's call counter, captures the request, and returns
// the 0-indexed call number used to pick a fixture from the sequence.
func (s *server) record(model string, req chatRequest) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.perModel[model]
	if st == nil {
		st = &modelState{}
		s.perModel[model] = st
	}
	idx := int(st.calls)
	st.calls++
	st.captured = append(st.captured, capturedRequest{
		Model:     model,
		Messages:  req.Messages,
		CallIndex: idx + 1,
		Timestamp: time.Now().UnixMilli(),
	})
	return idx
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	dims := flag.Int("dims", 384, "embedding dimensions")
	flag.Parse()

	if *fixtureDir == "" {
		*fixtureDir = os.Getenv("MOCK_LLM_FIXTURES")
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		log.Fatalf("load fixtures from %s: %v", *fixtureDir, err)
	}
	for model, seq := range fixtures {
		log.Printf("fixture model %s: %d file(s)", model, len(seq))
	}

	s := newServer(fixtures, *dims)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/embed", s.handleEmbed)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock model server on %s, %d models, %d-dim embeddings", addr, len(fixtures), *dims)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func writeBody(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeBody(w, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)

	// Exact model name first, then without the "mock-" prefix so registry
	// configs can name models either way.
	seq, ok := s.fixtures[req.Model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if !ok {
		log.Printf("call %d: no fixture for model %q", callNum, req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	idx := s.record(req.Model, req)
	content := seq[len(seq)-1] // sequence exhausted: repeat the final fixture
	if idx < len(seq) {
		content = seq[idx]
	}
	log.Printf("call %d: model=%s fixture %d of %d", callNum, req.Model, min(idx+1, len(seq)), len(seq))

	est := len(content) / 4
	writeBody(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{PromptTokens: est, CompletionTokens: est, TotalTokens: est * 2},
	})
}

// handleEmbed returns one deterministic unit-length vector per text.
func (s *server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Texts) == 0 {
		http.Error(w, "texts must not be empty", http.StatusBadRequest)
		return
	}

	out := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		out[i] = pseudoEmbedding(text, s.dims)
	}
	s.embeds.Add(int64(len(req.Texts)))
	writeBody(w, embedResponse{Embeddings: out, Model: req.Model})
}

// pseudoEmbedding derives a unit vector from an FNV hash of the text fed
// through an LCG. The same text always yields the same vector; distinct
// texts almost never collide.
func pseudoEmbedding(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		// Top bits have the best distribution in an LCG.
		v := float64(int64(state>>11))/(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var models []modelEntry
	for name := range s.fixtures {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	writeBody(w, map[string]any{"object": "list", "data": models})
}

// handleStats reports call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int64, len(s.perModel))
	for model, st := range s.perModel {
		byModel[model] = st.calls
	}
	s.mu.Unlock()

	writeBody(w, map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": byModel,
		"texts_embedded": s.embeds.Load(),
	})
}

// handleRequests returns captured completion requests, optionally filtered
// by ?model= and ?call= (1-indexed call number).
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, haveCall := 0, false
	if v := r.URL.Query().Get("call"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			callFilter, haveCall = n, true
		}
	}

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, st := range s.perModel {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		if !haveCall {
			result[model] = st.captured
			continue
		}
		for _, req := range st.captured {
			if req.CallIndex == callFilter {
				result[model] = append(result[model], req)
			}
		}
	}
	s.mu.Unlock()

	writeBody(w, map[string]any{"requests_by_model": result})
}

// numberedFixtureRe matches files like "mock-extractor.1.json".
var numberedFixtureRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads every .json file under dir into per-model reply
// sequences: numbered files in numeric order, then the base file as the
// repeating tail.
func loadFixtures(dir string) (map[string][]string, error) {
	type numbered struct {
		index   int
		content string
	}
	base := make(map[string]string)
	seqs := make(map[string][]numbered)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		content := string(data)
		// A bare JSON string is a prose reply; deliver it unquoted.
		var prose string
		if err := json.Unmarshal(data, &prose); err == nil {
			content = prose
		}

		if m := numberedFixtureRe.FindStringSubmatch(info.Name()); m != nil {
			index, _ := strconv.Atoi(m[2])
			seqs[m[1]] = append(seqs[m[1]], numbered{index: index, content: content})
			return nil
		}
		base[strings.TrimSuffix(info.Name(), ".json")] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)
	for model, files := range seqs {
		sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
		for _, f := range files {
			fixtures[model] = append(fixtures[model], f.content)
		}
	}
	for model, content := range base {
		fixtures[model] = append(fixtures[model], content)
	}
	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
