package app

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrag/internal/model"
)

type ragFixture struct {
	svc       *RAGService
	store     *fakeVectorStore
	generator *fakeGenerator
}

func newRAGFixture(cfg RAGConfig) *ragFixture {
	store := newFakeVectorStore()
	generator := &fakeGenerator{}
	guard := NewGuard(newMemUserStore(), testSecret)
	return &ragFixture{
		svc:       NewRAGService(guard, fakeEmbedder{}, store, generator, nil, cfg),
		store:     store,
		generator: generator,
	}
}

func identityFor(subjectID string) *Identity {
	return &Identity{SubjectID: subjectID, Role: model.RoleUser}
}

func TestRAGService_IngestChunksLongDocument(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{ChunkSize: 1000, ChunkOverlap: 200})
	alice := identityFor("alice")

	result, err := f.svc.Ingest(context.Background(), alice, IngestInput{
		OwnerSubjectID: "alice",
		DocumentID:     "d1",
		Title:          "Concurrency Notes",
		Text:           testDocumentText(5000),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ChunksProcessed, 5)
	assert.LessOrEqual(t, result.ChunksProcessed, 7)
	assert.Equal(t, result.ChunksProcessed, f.store.count("alice"))

	ids, err := f.store.ListIDs(context.Background(), "alice", "d1-")
	require.NoError(t, err)
	assert.Len(t, ids, result.ChunksProcessed)
	assert.Contains(t, ids, "d1-0")
}

func TestRAGService_IngestIdempotentKeys(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{ChunkSize: 200, ChunkOverlap: 40})
	alice := identityFor("alice")
	ctx := context.Background()
	input := IngestInput{
		OwnerSubjectID: "alice",
		DocumentID:     "d1",
		Text:           testDocumentText(1200),
	}

	first, err := f.svc.Ingest(ctx, alice, input)
	require.NoError(t, err)
	second, err := f.svc.Ingest(ctx, alice, input)
	require.NoError(t, err)

	// Same keys upsert in place; re-ingesting never grows the partition.
	assert.Equal(t, first.ChunksProcessed, second.ChunksProcessed)
	assert.Equal(t, first.ChunksProcessed, f.store.count("alice"))
}

func TestRAGService_IngestValidation(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, alice, IngestInput{OwnerSubjectID: "alice", DocumentID: "", Text: "hello"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Ingest(ctx, alice, IngestInput{OwnerSubjectID: "alice", DocumentID: "d1", Text: "   \n\n  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRAGService_CrossUserForbidden(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	bob := identityFor("bob")
	admin := &Identity{SubjectID: "root", Role: model.RoleAdmin}
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, bob, IngestInput{OwnerSubjectID: "alice", DocumentID: "d1", Text: "alice data"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Answer(ctx, bob, AnswerInput{OwnerSubjectID: "alice", Query: "what is this"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.DeleteDocument(ctx, bob, DeleteInput{OwnerSubjectID: "alice", DocumentID: "d1"})
	assert.ErrorIs(t, err, ErrForbidden)

	// Admins operate on any partition.
	_, err = f.svc.Ingest(ctx, admin, IngestInput{OwnerSubjectID: "alice", DocumentID: "d1", Text: "alice data from admin"})
	assert.NoError(t, err)
}

func TestRAGService_AnswerCitesIngestedDocument(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{ChunkSize: 1000, ChunkOverlap: 200})
	f.generator.reply = "goroutines are covered in your notes"
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, alice, IngestInput{
		OwnerSubjectID: "alice",
		DocumentID:     "d1",
		Text:           testDocumentText(5000),
	})
	require.NoError(t, err)

	result, err := f.svc.Answer(ctx, alice, AnswerInput{OwnerSubjectID: "alice", Query: "what are goroutines"})
	require.NoError(t, err)
	assert.Equal(t, "goroutines are covered in your notes", result.Answer)
	require.NotEmpty(t, result.Sources)
	for _, src := range result.Sources {
		assert.Equal(t, "d1", src.DocumentID)
		assert.NotEmpty(t, src.Text)
	}

	prompt := f.generator.lastUserContent()
	assert.Contains(t, prompt, "what are goroutines")
	assert.Contains(t, prompt, "document: d1")
}

func TestRAGService_AnswerCourseFilter(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{ChunkSize: 200, ChunkOverlap: 40})
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, alice, IngestInput{
		OwnerSubjectID: "alice", DocumentID: "d1", CourseID: "cs101",
		Text: testDocumentText(600),
	})
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, alice, IngestInput{
		OwnerSubjectID: "alice", DocumentID: "d2", CourseID: "cs202",
		Text: testDocumentText(600),
	})
	require.NoError(t, err)

	result, err := f.svc.Answer(ctx, alice, AnswerInput{
		OwnerSubjectID: "alice", Query: "channels", CourseID: "cs101",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Sources)
	for _, src := range result.Sources {
		assert.Equal(t, "d1", src.DocumentID)
	}
}

func TestRAGService_AnswerOrdersSourcesByScoreThenIndex(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	alice := identityFor("alice")
	ctx := context.Background()

	records := make([]model.VectorRecord, 4)
	for i := range records {
		chunk := model.Chunk{DocumentID: "d1", Index: i, Text: "passage"}
		records[i] = model.VectorRecord{
			ID:     chunk.Key(),
			Values: []float32{float32(i)},
			Metadata: map[string]string{
				model.MetaDocumentID: "d1",
				model.MetaChunkIndex: strconv.Itoa(i),
				model.MetaText:       "passage",
			},
		}
	}
	require.NoError(t, f.store.Upsert(ctx, "alice", records))
	f.store.setScore("d1-0", 0.5)
	f.store.setScore("d1-1", 0.9)
	f.store.setScore("d1-2", 0.9)
	f.store.setScore("d1-3", 0.7)

	result, err := f.svc.Answer(ctx, alice, AnswerInput{OwnerSubjectID: "alice", Query: "order check"})
	require.NoError(t, err)
	require.Len(t, result.Sources, 4)

	// Score descending; the tied pair falls back to chunk index ascending.
	ids := make([]string, len(result.Sources))
	for i, src := range result.Sources {
		ids[i] = src.ID
	}
	assert.Equal(t, []string{"d1-1", "d1-2", "d1-3", "d1-0"}, ids)
}

func TestRAGService_AnswerEmptyRetrievalStillGenerates(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	alice := identityFor("alice")

	result, err := f.svc.Answer(context.Background(), alice, AnswerInput{
		OwnerSubjectID: "alice", Query: "anything at all",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
	assert.Equal(t, 1, f.generator.calls)
	assert.Contains(t, f.generator.lastUserContent(), "No relevant context found")
}

func TestRAGService_AnswerValidation(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	_, err := f.svc.Answer(context.Background(), identityFor("alice"), AnswerInput{
		OwnerSubjectID: "alice", Query: "  ",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRAGService_DeleteDocument(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{ChunkSize: 200, ChunkOverlap: 40})
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, alice, IngestInput{
		OwnerSubjectID: "alice", DocumentID: "d1", Text: testDocumentText(600),
	})
	require.NoError(t, err)
	// d10 shares the d1 prefix but not the d1- key prefix.
	_, err = f.svc.Ingest(ctx, alice, IngestInput{
		OwnerSubjectID: "alice", DocumentID: "d10", Text: testDocumentText(600),
	})
	require.NoError(t, err)

	result, err := f.svc.DeleteDocument(ctx, alice, DeleteInput{OwnerSubjectID: "alice", DocumentID: "d1"})
	require.NoError(t, err)
	require.NotEmpty(t, result.DeletedIDs)
	for _, id := range result.DeletedIDs {
		assert.True(t, strings.HasPrefix(id, "d1-"))
	}

	remaining, err := f.store.ListIDs(ctx, "alice", "d10-")
	require.NoError(t, err)
	assert.NotEmpty(t, remaining)

	// The document is gone, so deleting again is NotFound rather than a no-op.
	_, err = f.svc.DeleteDocument(ctx, alice, DeleteInput{OwnerSubjectID: "alice", DocumentID: "d1"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.DeleteDocument(ctx, alice, DeleteInput{OwnerSubjectID: "alice", DocumentID: "never-ingested"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRAGService_ChatWithoutKnowledge(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	f.generator.reply = "plain chat reply"
	alice := identityFor("alice")

	result, err := f.svc.Chat(context.Background(), alice, ChatInput{
		OwnerSubjectID: "alice",
		Messages: []model.ChatMessage{
			{Role: model.RoleUserMessage, Content: "hello"},
			{Role: model.RoleAssistant, Content: "hi there"},
			{Role: model.RoleUserMessage, Content: "how are you"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain chat reply", result.Answer)
	assert.Empty(t, result.Sources)
	assert.Equal(t, "how are you", f.generator.lastUserContent())
}

func TestRAGService_ChatWithKnowledge(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{ChunkSize: 200, ChunkOverlap: 40})
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, alice, IngestInput{
		OwnerSubjectID: "alice", DocumentID: "d1", Text: testDocumentText(600),
	})
	require.NoError(t, err)

	result, err := f.svc.Chat(ctx, alice, ChatInput{
		OwnerSubjectID: "alice",
		UseKnowledge:   true,
		Messages: []model.ChatMessage{
			{Role: model.RoleUserMessage, Content: "tell me about goroutines"},
			{Role: model.RoleAssistant, Content: "sure"},
			{Role: model.RoleUserMessage, Content: "and channels?"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Sources)
	assert.Contains(t, f.generator.lastUserContent(), "and channels?")
	assert.Contains(t, f.generator.lastUserContent(), "Context passages:")
}

func TestRAGService_ChatCourseTitleInSystemPrompt(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, alice, ChatInput{
		OwnerSubjectID: "alice",
		UseKnowledge:   true,
		CourseTitle:    "Operating Systems",
		Messages:       []model.ChatMessage{{Role: model.RoleUserMessage, Content: "what is a mutex"}},
	})
	require.NoError(t, err)
	assert.Contains(t, f.generator.systemContent(), `"Operating Systems"`)

	// Without knowledge there is no system prompt to decorate.
	_, err = f.svc.Chat(ctx, alice, ChatInput{
		OwnerSubjectID: "alice",
		CourseTitle:    "Operating Systems",
		Messages:       []model.ChatMessage{{Role: model.RoleUserMessage, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Empty(t, f.generator.systemContent())
}

func TestRAGService_ChatValidation(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	alice := identityFor("alice")
	ctx := context.Background()

	_, err := f.svc.Chat(ctx, alice, ChatInput{OwnerSubjectID: "alice"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Chat(ctx, alice, ChatInput{
		OwnerSubjectID: "alice",
		Messages: []model.ChatMessage{
			{Role: model.RoleUserMessage, Content: "question"},
			{Role: model.RoleAssistant, Content: "trailing assistant turn"},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRAGService_StreamChat(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	f.generator.reply = "streamed answer text"
	alice := identityFor("alice")
	ctx := context.Background()

	stream, err := f.svc.OpenChatStream(ctx, alice, ChatInput{
		OwnerSubjectID: "alice",
		Messages:       []model.ChatMessage{{Role: model.RoleUserMessage, Content: "hi"}},
	})
	require.NoError(t, err)
	// Opening the stream prepares the turn without generating anything.
	assert.Equal(t, 0, f.generator.calls)

	var got strings.Builder
	result, err := stream.Run(ctx, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed answer text", result.Answer)
	assert.Equal(t, "streamed answer text", got.String())
}

func TestRAGService_OpenChatStreamRejectsBeforeGeneration(t *testing.T) {
	t.Parallel()

	f := newRAGFixture(RAGConfig{})
	bob := identityFor("bob")
	ctx := context.Background()

	// Authorization and validation failures surface from the open step, so
	// transports can answer with a status code instead of a broken stream.
	_, err := f.svc.OpenChatStream(ctx, bob, ChatInput{
		OwnerSubjectID: "alice",
		Messages:       []model.ChatMessage{{Role: model.RoleUserMessage, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.OpenChatStream(ctx, bob, ChatInput{OwnerSubjectID: "bob"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, 0, f.generator.calls)
}
