package app

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"studyrag/internal/model"
	"studyrag/internal/repository"
)

// memUserStore is an in-process UserStore for tests, mirroring the contract
// of the GORM implementation.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*model.User)}
}

func (s *memUserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, nil
}

func (s *memUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memUserStore) List(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]model.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}
	return users, nil
}

func (s *memUserStore) setActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		user.Active = active
	}
}

// fakeEmbedder derives a deterministic vector from the text so similarity is
// stable across runs.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	var sum float32
	for _, r := range text {
		sum += float32(r % 31)
	}
	return []float32{sum, float32(len(text))}, nil
}

func (e fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// fakeVectorStore keeps namespaced records in memory and answers queries
// with every matching record, unordered, leaving ranking to the service
// under test. Scores default to 0.9 and can be pinned per record.
type fakeVectorStore struct {
	mu         sync.Mutex
	namespaces map[string]map[string]model.VectorRecord
	scores     map[string]float32
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		namespaces: make(map[string]map[string]model.VectorRecord),
		scores:     make(map[string]float32),
	}
}

func (s *fakeVectorStore) setScore(id string, score float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[id] = score
}

func (s *fakeVectorStore) Upsert(_ context.Context, namespace string, records []model.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]model.VectorRecord)
		s.namespaces[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	return nil
}

func (s *fakeVectorStore) Query(_ context.Context, namespace string, _ []float32, topK int, filter map[string]string) ([]model.ScoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hits []model.ScoredRecord
	for _, r := range s.namespaces[namespace] {
		matched := true
		for k, v := range filter {
			if r.Metadata[k] != v {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		score, ok := s.scores[r.ID]
		if !ok {
			score = 0.9
		}
		hits = append(hits, model.ScoredRecord{ID: r.ID, Score: score, Metadata: r.Metadata})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (s *fakeVectorStore) ListIDs(_ context.Context, namespace, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.namespaces[namespace] {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeVectorStore) Delete(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

func (s *fakeVectorStore) count(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.namespaces[namespace])
}

// fakeGenerator records the last prompt and returns a canned completion.
type fakeGenerator struct {
	mu         sync.Mutex
	lastPrompt []model.ChatMessage
	reply      string
	calls      int
}

func (g *fakeGenerator) Complete(_ context.Context, messages []model.ChatMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPrompt = messages
	g.calls++
	if g.reply == "" {
		return "generated answer", nil
	}
	return g.reply, nil
}

func (g *fakeGenerator) StreamComplete(ctx context.Context, messages []model.ChatMessage, onChunk func(string) error) (string, error) {
	full, err := g.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	half := len(full) / 2
	for _, part := range []string{full[:half], full[half:]} {
		if part == "" {
			continue
		}
		if err := onChunk(part); err != nil {
			return "", err
		}
	}
	return full, nil
}

func (g *fakeGenerator) systemContent() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.lastPrompt {
		if m.Role == model.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func (g *fakeGenerator) lastUserContent() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.lastPrompt) - 1; i >= 0; i-- {
		if g.lastPrompt[i].Role == model.RoleUserMessage {
			return g.lastPrompt[i].Content
		}
	}
	return ""
}

func testDocumentText(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		b.WriteString("sentence ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" about goroutines and channels. ")
	}
	return b.String()[:n]
}
