package pineconeadapter

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// VectorStore adapts the Pinecone Client into mcos.VectorStore. Each user
// gets its own namespace (qualified with an operator-configured prefix),
// which is how tenant isolation is enforced at the storage layer on top of
// MCOS's own scoped-query filtering.
type VectorStore struct {
	log       *logger.Logger
	pc        Client
	indexHost string
	nsPrefix  string
}

func NewVectorStore(log *logger.Logger, pc Client) (*VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))
	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "mcos"
	}

	if host == "" {
		desc, err := pc.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		if host == "" {
			return nil, fmt.Errorf("pinecone describe_index returned empty host")
		}
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName, "index_host", host)
	}

	return &VectorStore{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        pc,
		indexHost: host,
		nsPrefix:  nsPrefix,
	}, nil
}

func (s *VectorStore) namespace(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return s.nsPrefix
	}
	return s.nsPrefix + ":" + userID
}

// classify maps a raw transport error into MCOS's Transient/Terminal
// taxonomy. Pinecone HTTP errors are always worth retrying from the
// adapter's point of view; VectorMemory.withRetry decides the final
// attempt budget.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return mcos.NewError(op, mcos.KindTransient, err)
}

func (s *VectorStore) Upsert(ctx context.Context, records []mcos.MemoryRecord) error {
	byUser := make(map[string][]Vector)
	for _, r := range records {
		md := map[string]any{
			"chatId":    r.ChatID,
			"kind":      string(r.Kind),
			"seq":       r.Seq,
			"text":      r.Text,
			"createdAt": r.CreatedAt.Unix(),
		}
		for k, v := range r.Metadata {
			md[k] = v
		}
		byUser[r.UserID] = append(byUser[r.UserID], Vector{ID: r.ID, Values: r.Embedding, Metadata: md})
	}

	for userID, vectors := range byUser {
		_, err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
			Namespace: s.namespace(userID),
			Vectors:   vectors,
		})
		if err != nil {
			return classify("Upsert", err)
		}
	}
	return nil
}

func (s *VectorStore) Query(ctx context.Context, q mcos.ScopedQuery) ([]mcos.MemoryRecord, error) {
	filter := map[string]any{}
	if q.ChatID != "" {
		filter["chatId"] = q.ChatID
	}
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		filter["kind"] = map[string]any{"$in": kinds}
	}

	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       s.namespace(q.UserID),
		Vector:          q.Vector,
		TopK:            q.TopK,
		Filter:          filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, classify("Query", err)
	}

	out := make([]mcos.MemoryRecord, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Score < q.MinScore {
			continue
		}
		rec := mcos.MemoryRecord{ID: m.ID, UserID: q.UserID, Score: m.Score}
		if m.Metadata != nil {
			if v, ok := m.Metadata["chatId"].(string); ok {
				rec.ChatID = v
			}
			if v, ok := m.Metadata["kind"].(string); ok {
				rec.Kind = mcos.MemoryRecordKind(v)
			}
			if v, ok := m.Metadata["text"].(string); ok {
				rec.Text = v
			}
			if v, ok := m.Metadata["seq"].(float64); ok {
				rec.Seq = int64(v)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *VectorStore) DeleteByScope(ctx context.Context, scope mcos.DeleteScope) error {
	req := DeleteRequest{Namespace: s.namespace(scope.UserID)}

	filter := map[string]any{}
	if scope.ChatID != "" {
		filter["chatId"] = scope.ChatID
	}
	if scope.Kind != "" {
		filter["kind"] = string(scope.Kind)
	}
	if len(filter) == 0 {
		req.DeleteAll = true
	} else {
		req.Filter = filter
	}

	err := s.pc.DeleteVectors(ctx, s.indexHost, req)
	return classify("DeleteByScope", err)
}
