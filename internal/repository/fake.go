package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
)

// FakeRepository is an in-memory Repository used by package tests that do
// not want a live Postgres instance. It applies the same workspace-scoping
// and dedup-by-content-hash rules as PGRepository, minus concurrency.
type FakeRepository struct {
	mu          sync.Mutex
	workspaces  map[uuid.UUID]domain.Workspace
	acl         map[uuid.UUID][]domain.ACLEntry
	documents   map[uuid.UUID]domain.Document
	chunks      map[uuid.UUID][]domain.Chunk // keyed by document ID
	nodes       map[uuid.UUID][]domain.Node  // keyed by document ID
	hashIndex   map[string]uuid.UUID         // workspaceID.String()+":"+hash -> document ID
}

// NewFakeRepository builds an empty in-memory store.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		workspaces: make(map[uuid.UUID]domain.Workspace),
		acl:        make(map[uuid.UUID][]domain.ACLEntry),
		documents:  make(map[uuid.UUID]domain.Document),
		chunks:     make(map[uuid.UUID][]domain.Chunk),
		nodes:      make(map[uuid.UUID][]domain.Node),
		hashIndex:  make(map[string]uuid.UUID),
	}
}

// PutWorkspace seeds a workspace for test fixtures.
func (f *FakeRepository) PutWorkspace(w domain.Workspace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[w.ID] = w
}

// PutACL seeds an ACL entry for test fixtures.
func (f *FakeRepository) PutACL(e domain.ACLEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acl[e.WorkspaceID] = append(f.acl[e.WorkspaceID], e)
}

func hashKey(workspaceID uuid.UUID, hash string) string {
	return workspaceID.String() + ":" + hash
}

func (f *FakeRepository) SaveDocumentWithChunks(ctx context.Context, doc domain.Document, chunks []domain.Chunk, nodes []domain.Node) (domain.Document, error) {
	for _, c := range chunks {
		if err := validateEmbedding(c.Embedding); err != nil {
			return domain.Document{}, err
		}
	}
	for _, n := range nodes {
		if err := validateEmbedding(n.Embedding); err != nil {
			return domain.Document{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if doc.ContentHash != nil {
		if existingID, ok := f.hashIndex[hashKey(doc.WorkspaceID, *doc.ContentHash)]; ok {
			return f.documents[existingID], nil
		}
	}

	f.documents[doc.ID] = doc
	f.chunks[doc.ID] = append([]domain.Chunk(nil), chunks...)
	f.nodes[doc.ID] = append([]domain.Node(nil), nodes...)
	if doc.ContentHash != nil {
		f.hashIndex[hashKey(doc.WorkspaceID, *doc.ContentHash)] = doc.ID
	}
	return doc, nil
}

func (f *FakeRepository) GetDocumentByContentHash(ctx context.Context, workspaceID uuid.UUID, hash string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.hashIndex[hashKey(workspaceID, hash)]
	if !ok {
		return nil, nil
	}
	d := f.documents[id]
	return &d, nil
}

func (f *FakeRepository) GetDocument(ctx context.Context, workspaceID, documentID uuid.UUID) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok || d.WorkspaceID != workspaceID || d.DeletedAt != nil {
		return nil, nil
	}
	return &d, nil
}

func (f *FakeRepository) ListDocuments(ctx context.Context, workspaceID uuid.UUID, limit, offset int, filters ListFilters) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []domain.Document
	for _, d := range f.documents {
		if d.WorkspaceID != workspaceID || d.DeletedAt != nil {
			continue
		}
		if filters.Query != "" && !strings.Contains(strings.ToLower(d.Title), strings.ToLower(filters.Query)) {
			continue
		}
		if filters.Status != "" && d.Status != filters.Status {
			continue
		}
		if filters.Tag != "" {
			if _, ok := d.Tags[filters.Tag]; !ok {
				continue
			}
		}
		matched = append(matched, d)
	}

	sort.Slice(matched, func(i, j int) bool {
		switch filters.Sort {
		case SortCreatedAtAsc:
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		case SortTitleAsc:
			return matched[i].Title < matched[j].Title
		case SortTitleDesc:
			return matched[i].Title > matched[j].Title
		default:
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit + 1
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (f *FakeRepository) FindSimilarChunks(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int) ([]ChunkMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []ChunkMatch
	for docID, cs := range f.chunks {
		doc, ok := f.documents[docID]
		if !ok || doc.WorkspaceID != workspaceID || doc.DeletedAt != nil {
			continue
		}
		for _, c := range cs {
			out = append(out, ChunkMatch{Chunk: c, Score: cosineSim(embedding, c.Embedding)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *FakeRepository) FindSimilarChunksMMR(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int, lambda float64, poolSize int) ([]ChunkMatch, error) {
	if poolSize < topK {
		poolSize = topK
	}
	pool, err := f.FindSimilarChunks(ctx, workspaceID, embedding, poolSize)
	if err != nil {
		return nil, err
	}
	return mmrSelect(pool, topK, lambda), nil
}

func (f *FakeRepository) FindChunksFullText(ctx context.Context, workspaceID uuid.UUID, query string, topK int) ([]ChunkMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	needle := strings.ToLower(query)
	var out []ChunkMatch
	for docID, cs := range f.chunks {
		doc, ok := f.documents[docID]
		if !ok || doc.WorkspaceID != workspaceID || doc.DeletedAt != nil {
			continue
		}
		for _, c := range cs {
			content := strings.ToLower(c.Content)
			if !strings.Contains(content, needle) {
				continue
			}
			score := float64(strings.Count(content, needle))
			out = append(out, ChunkMatch{Chunk: c, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *FakeRepository) FindSimilarNodes(ctx context.Context, workspaceID uuid.UUID, embedding []float32, topK int) ([]NodeMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []NodeMatch
	for _, ns := range f.nodes {
		for _, n := range ns {
			if n.WorkspaceID != workspaceID {
				continue
			}
			out = append(out, NodeMatch{Node: n, Score: cosineSim(embedding, n.Embedding)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *FakeRepository) FindChunksByNodeSpans(ctx context.Context, workspaceID uuid.UUID, spans []NodeSpan) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Chunk
	for _, s := range spans {
		doc, ok := f.documents[s.DocumentID]
		if !ok || doc.WorkspaceID != workspaceID || doc.DeletedAt != nil {
			continue
		}
		for _, c := range f.chunks[s.DocumentID] {
			if c.ChunkIndex >= s.SpanStart && c.ChunkIndex <= s.SpanEnd {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID.String() < out[j].DocumentID.String()
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out, nil
}

func (f *FakeRepository) TransitionDocumentStatus(ctx context.Context, documentID uuid.UUID, from, to domain.DocumentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	f.documents[documentID] = d
	return true, nil
}

func (f *FakeRepository) FailDocument(ctx context.Context, documentID uuid.UUID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return nil
	}
	d.Status = domain.StatusFailed
	msg := errorMessage
	d.ErrorMessage = &msg
	f.documents[documentID] = d
	return nil
}

func (f *FakeRepository) ReplaceChunksAndNodes(ctx context.Context, workspaceID, documentID uuid.UUID, chunks []domain.Chunk, nodes []domain.Node) error {
	for _, c := range chunks {
		if err := validateEmbedding(c.Embedding); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		if err := validateEmbedding(n.Embedding); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[documentID]; !ok {
		return nil
	}
	f.chunks[documentID] = append([]domain.Chunk(nil), chunks...)
	f.nodes[documentID] = append([]domain.Node(nil), nodes...)
	return nil
}

func (f *FakeRepository) DeleteChunksForDocument(ctx context.Context, documentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, documentID)
	delete(f.nodes, documentID)
	return nil
}

func (f *FakeRepository) GetWorkspace(ctx context.Context, workspaceID uuid.UUID) (*domain.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workspaces[workspaceID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (f *FakeRepository) ListACL(ctx context.Context, workspaceID uuid.UUID) ([]domain.ACLEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ACLEntry(nil), f.acl[workspaceID]...), nil
}

var _ Repository = (*FakeRepository)(nil)
