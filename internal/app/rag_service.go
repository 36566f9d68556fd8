package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"studyrag/internal/model"
	"studyrag/internal/pkg/textclean"
	"studyrag/internal/pkg/textsplit"
)

// Embedding APIs often cap array input; embed in small batches.
const embeddingBatchSize = 10

// Embedder turns text into vectors via the external embedding service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the external similarity store, partitioned by namespace.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []model.VectorRecord) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]model.ScoredRecord, error)
	ListIDs(ctx context.Context, namespace, prefix string) ([]string, error)
	Delete(ctx context.Context, namespace string, ids []string) error
}

// Generator is the external text-generation service.
type Generator interface {
	Complete(ctx context.Context, messages []model.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, messages []model.ChatMessage, onChunk func(chunk string) error) (string, error)
}

// AuditPublisher records completed operations off the request path.
type AuditPublisher interface {
	Publish(ctx context.Context, event model.AuditEvent) error
}

type RAGConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

type RAGService struct {
	guard     *Guard
	embedder  Embedder
	store     VectorStore
	generator Generator
	audit     AuditPublisher
	cfg       RAGConfig
}

func NewRAGService(
	guard *Guard,
	embedder Embedder,
	store VectorStore,
	generator Generator,
	audit AuditPublisher,
	cfg RAGConfig,
) *RAGService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 15
	}
	return &RAGService{
		guard:     guard,
		embedder:  embedder,
		store:     store,
		generator: generator,
		audit:     audit,
		cfg:       cfg,
	}
}

type IngestInput struct {
	OwnerSubjectID string
	DocumentID     string
	Title          string
	CourseID       string
	CourseTitle    string
	Text           string
}

type IngestResult struct {
	ChunksProcessed int `json:"chunks_processed"`
}

// Ingest cleans, chunks, embeds and upserts a document into the owner's
// partition. Chunk keys are {documentId}-{index}, so re-ingesting the same
// document overwrites prior vectors instead of appending. Any upstream
// failure fails the whole call; the caller re-ingests (at-least-once).
func (s *RAGService) Ingest(ctx context.Context, identity *Identity, input IngestInput) (*IngestResult, error) {
	if err := s.guard.AuthorizeOwnership(identity, input.OwnerSubjectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.DocumentID) == "" {
		return nil, ErrInvalidInput
	}

	cleaned := textclean.Document(input.Text)
	if cleaned == "" {
		return nil, ErrInvalidInput
	}

	chunks := textsplit.Split(cleaned, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrInvalidInput
	}

	var embeddings [][]float32
	for i := 0; i < len(chunks); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := s.embedder.EmbedBatch(ctx, chunks[i:end])
		if err != nil {
			log.Printf("ingest embedding failed: %v", err)
			return nil, fmt.Errorf("%w: embedding service", ErrUpstream)
		}
		embeddings = append(embeddings, batch...)
	}

	records := make([]model.VectorRecord, len(chunks))
	for i, text := range chunks {
		chunk := model.Chunk{DocumentID: input.DocumentID, Index: i, Text: text}
		records[i] = model.VectorRecord{
			ID:     chunk.Key(),
			Values: embeddings[i],
			Metadata: map[string]string{
				model.MetaDocumentID:  input.DocumentID,
				model.MetaTitle:       input.Title,
				model.MetaCourseID:    input.CourseID,
				model.MetaCourseTitle: input.CourseTitle,
				model.MetaChunkIndex:  strconv.Itoa(i),
				model.MetaText:        text,
			},
		}
	}

	if err := s.store.Upsert(ctx, input.OwnerSubjectID, records); err != nil {
		log.Printf("ingest upsert failed: %v", err)
		return nil, fmt.Errorf("%w: vector store", ErrUpstream)
	}

	s.publishAudit(ctx, model.AuditEvent{
		Action:     model.AuditActionIngest,
		SubjectID:  input.OwnerSubjectID,
		DocumentID: input.DocumentID,
		ChunkCount: len(records),
	})
	return &IngestResult{ChunksProcessed: len(records)}, nil
}

type AnswerInput struct {
	OwnerSubjectID string
	Query          string
	CourseID       string
}

type AnswerResult struct {
	Answer  string           `json:"answer"`
	Sources []model.Citation `json:"sources"`
}

// Answer embeds the query, retrieves the owner's top-matching chunks and
// asks the generation service, returning the answer with cited sources.
func (s *RAGService) Answer(ctx context.Context, identity *Identity, input AnswerInput) (*AnswerResult, error) {
	if err := s.guard.AuthorizeOwnership(identity, input.OwnerSubjectID); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, ErrInvalidInput
	}

	hits, err := s.retrieve(ctx, input.OwnerSubjectID, query, input.CourseID)
	if err != nil {
		return nil, err
	}

	messages := []model.ChatMessage{
		{Role: model.RoleSystem, Content: answerSystemPrompt},
		{Role: model.RoleUserMessage, Content: buildKnowledgePrompt(query, hits)},
	}
	answer, err := s.generator.Complete(ctx, messages)
	if err != nil {
		log.Printf("answer generation failed: %v", err)
		return nil, fmt.Errorf("%w: generation service", ErrUpstream)
	}

	s.publishAudit(ctx, model.AuditEvent{
		Action:    model.AuditActionQuestion,
		SubjectID: input.OwnerSubjectID,
	})
	return &AnswerResult{
		Answer:  strings.TrimSpace(answer),
		Sources: citations(hits),
	}, nil
}

type ChatInput struct {
	OwnerSubjectID string
	Messages       []model.ChatMessage
	UseKnowledge   bool
	CourseID       string
	CourseTitle    string
}

type ChatResult struct {
	Answer  string           `json:"answer"`
	Sources []model.Citation `json:"sources,omitempty"`
}

// Chat runs a conversation turn, optionally grounded in the owner's
// partition. When knowledge is used, the retrieval query combines every user
// message in the conversation.
func (s *RAGService) Chat(ctx context.Context, identity *Identity, input ChatInput) (*ChatResult, error) {
	messages, hits, err := s.prepareChat(ctx, identity, input)
	if err != nil {
		return nil, err
	}

	answer, err := s.generator.Complete(ctx, messages)
	if err != nil {
		log.Printf("chat generation failed: %v", err)
		return nil, fmt.Errorf("%w: generation service", ErrUpstream)
	}

	s.publishAudit(ctx, model.AuditEvent{
		Action:    model.AuditActionChat,
		SubjectID: input.OwnerSubjectID,
	})
	return &ChatResult{
		Answer:  strings.TrimSpace(answer),
		Sources: citations(hits),
	}, nil
}

// ChatStream is a prepared streaming conversation turn: authorization,
// validation and retrieval have already run, generation has not. The split
// lets transports fail with a real status code before committing to an
// event stream.
type ChatStream struct {
	svc      *RAGService
	input    ChatInput
	messages []model.ChatMessage
	hits     []model.ScoredRecord
}

// OpenChatStream performs every pre-generation step of a chat turn.
func (s *RAGService) OpenChatStream(ctx context.Context, identity *Identity, input ChatInput) (*ChatStream, error) {
	messages, hits, err := s.prepareChat(ctx, identity, input)
	if err != nil {
		return nil, err
	}
	return &ChatStream{svc: s, input: input, messages: messages, hits: hits}, nil
}

// Run streams the completion: onChunk receives text increments until the
// completion finishes or ctx is cancelled. The returned result carries the
// full text and citations for the terminal marker.
func (cs *ChatStream) Run(ctx context.Context, onChunk func(chunk string) error) (*ChatResult, error) {
	full, err := cs.svc.generator.StreamComplete(ctx, cs.messages, onChunk)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("chat stream generation failed: %v", err)
		return nil, fmt.Errorf("%w: generation service", ErrUpstream)
	}

	cs.svc.publishAudit(ctx, model.AuditEvent{
		Action:    model.AuditActionChat,
		SubjectID: cs.input.OwnerSubjectID,
	})
	return &ChatResult{
		Answer:  strings.TrimSpace(full),
		Sources: citations(cs.hits),
	}, nil
}

func (s *RAGService) prepareChat(ctx context.Context, identity *Identity, input ChatInput) ([]model.ChatMessage, []model.ScoredRecord, error) {
	if err := s.guard.AuthorizeOwnership(identity, input.OwnerSubjectID); err != nil {
		return nil, nil, err
	}
	if len(input.Messages) == 0 {
		return nil, nil, ErrInvalidInput
	}
	last := input.Messages[len(input.Messages)-1]
	if last.Role != model.RoleUserMessage || strings.TrimSpace(last.Content) == "" {
		return nil, nil, ErrInvalidInput
	}

	history := input.Messages[:len(input.Messages)-1]

	if !input.UseKnowledge {
		messages := append([]model.ChatMessage{}, history...)
		messages = append(messages, model.ChatMessage{
			Role:    model.RoleUserMessage,
			Content: last.Content,
		})
		return messages, nil, nil
	}

	// Retrieval keys off the whole conversation, not just the last turn.
	var userParts []string
	for _, m := range input.Messages {
		if m.Role == model.RoleUserMessage {
			userParts = append(userParts, m.Content)
		}
	}
	query := textclean.Query(strings.Join(userParts, " "))
	if query == "" {
		query = strings.TrimSpace(last.Content)
	}

	hits, err := s.retrieve(ctx, input.OwnerSubjectID, query, input.CourseID)
	if err != nil {
		return nil, nil, err
	}

	system := answerSystemPrompt
	if title := strings.TrimSpace(input.CourseTitle); title != "" {
		system += " The conversation concerns the course " + strconv.Quote(title) + "."
	}
	messages := append([]model.ChatMessage{
		{Role: model.RoleSystem, Content: system},
	}, history...)
	messages = append(messages, model.ChatMessage{
		Role:    model.RoleUserMessage,
		Content: buildKnowledgePrompt(last.Content, hits),
	})
	return messages, hits, nil
}

type DeleteInput struct {
	OwnerSubjectID string
	DocumentID     string
}

type DeleteResult struct {
	DeletedIDs []string `json:"deleted_ids"`
}

// DeleteDocument removes every chunk of the document from the owner's
// partition. Zero matches is ErrNotFound, which also makes a repeated delete
// after success fail rather than silently succeed.
func (s *RAGService) DeleteDocument(ctx context.Context, identity *Identity, input DeleteInput) (*DeleteResult, error) {
	if err := s.guard.AuthorizeOwnership(identity, input.OwnerSubjectID); err != nil {
		return nil, err
	}
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID == "" {
		return nil, ErrInvalidInput
	}

	ids, err := s.store.ListIDs(ctx, input.OwnerSubjectID, documentID+"-")
	if err != nil {
		log.Printf("delete list ids failed: %v", err)
		return nil, fmt.Errorf("%w: vector store", ErrUpstream)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	if err := s.store.Delete(ctx, input.OwnerSubjectID, ids); err != nil {
		log.Printf("delete vectors failed: %v", err)
		return nil, fmt.Errorf("%w: vector store", ErrUpstream)
	}

	sort.Strings(ids)
	s.publishAudit(ctx, model.AuditEvent{
		Action:     model.AuditActionDelete,
		SubjectID:  input.OwnerSubjectID,
		DocumentID: documentID,
		ChunkCount: len(ids),
	})
	return &DeleteResult{DeletedIDs: ids}, nil
}

// retrieve embeds the query and returns the namespace's top hits in a
// deterministic order: score descending, chunk index ascending on ties.
// Empty retrieval is not an error.
func (s *RAGService) retrieve(ctx context.Context, namespace, query, courseID string) ([]model.ScoredRecord, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("query embedding failed: %v", err)
		return nil, fmt.Errorf("%w: embedding service", ErrUpstream)
	}

	var filter map[string]string
	if courseID != "" {
		filter = map[string]string{model.MetaCourseID: courseID}
	}

	hits, err := s.store.Query(ctx, namespace, vector, s.cfg.TopK, filter)
	if err != nil {
		log.Printf("vector query failed: %v", err)
		return nil, fmt.Errorf("%w: vector store", ErrUpstream)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return chunkIndex(hits[i]) < chunkIndex(hits[j])
	})
	return hits, nil
}

func (s *RAGService) publishAudit(ctx context.Context, event model.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		log.Printf("publish audit event failed: %v", err)
	}
}

const answerSystemPrompt = "You are a study assistant. Answer using the provided context passages. " +
	"Reference the source document of every cited fact. If the context is insufficient, " +
	"say so explicitly before answering from general knowledge."

const noContextFallback = "No relevant context found in the knowledge base for this question."

func buildKnowledgePrompt(question string, hits []model.ScoredRecord) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nContext passages:\n")
	if len(hits) == 0 {
		b.WriteString(noContextFallback)
		b.WriteString("\n")
		return b.String()
	}
	for i, hit := range hits {
		fmt.Fprintf(&b, "--- Passage %d (document: %s) ---\n%s\n",
			i+1, hit.Metadata[model.MetaDocumentID], hit.Metadata[model.MetaText])
	}
	return b.String()
}

func citations(hits []model.ScoredRecord) []model.Citation {
	if len(hits) == 0 {
		return nil
	}
	cited := make([]model.Citation, len(hits))
	for i, hit := range hits {
		cited[i] = model.Citation{
			ID:         hit.ID,
			Text:       hit.Metadata[model.MetaText],
			DocumentID: hit.Metadata[model.MetaDocumentID],
			Score:      hit.Score,
		}
	}
	return cited
}

func chunkIndex(record model.ScoredRecord) int {
	n, err := strconv.Atoi(record.Metadata[model.MetaChunkIndex])
	if err != nil {
		return 0
	}
	return n
}
