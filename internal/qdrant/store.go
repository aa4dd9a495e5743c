// Package qdrant implements the catalog vector store on a Qdrant server over
// gRPC.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/refset/civic-intake/internal/catalog"
	"github.com/refset/civic-intake/internal/embedding"
)

// Store is a catalog.VectorStore backed by Qdrant.
type Store struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	apiKey      string
}

// Dial connects to Qdrant's gRPC port.
func Dial(host string, port int, apiKey string, useTLS bool) (*Store, error) {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	target := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", target, err)
	}
	return New(conn, apiKey), nil
}

// New wraps an existing connection.
func New(conn *grpc.ClientConn, apiKey string) *Store {
	return &Store{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		apiKey:      apiKey,
	}
}

// Close releases the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	resp, err := s.collections.List(s.withAuth(ctx), &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range resp.GetCollections() {
		if col.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates a cosine collection of the given dimension unless
// one already exists. Losing a creation race to another process is not an
// error.
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	ok, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	_, err = s.collections.Create(s.withAuth(ctx), &qdrantclient.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if ok, lerr := s.exists(ctx, name); lerr == nil && ok {
			log.Printf("Collection %s created concurrently, continuing", name)
			return nil
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}
	log.Printf("Created collection %s (dim %d, cosine)", name, dimension)
	return nil
}

// Count returns the number of points in the collection.
func (s *Store) Count(ctx context.Context, name string) (uint64, error) {
	exact := true
	resp, err := s.points.Count(s.withAuth(ctx), &qdrantclient.CountPoints{
		CollectionName: name,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// Upsert writes catalog points and waits for them to be indexed.
func (s *Store) Upsert(ctx context.Context, name string, points []catalog.Point) error {
	wait := true
	structs := make([]*qdrantclient.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrantclient.PointStruct{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Num{Num: p.Record.ID},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: p.Vector},
				},
			},
			Payload: encodePayload(p),
		})
	}
	_, err := s.points.Upsert(s.withAuth(ctx), &qdrantclient.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the nearest catalog records to vector.
func (s *Store) Search(ctx context.Context, name string, vector []float32, limit int) ([]catalog.Match, error) {
	resp, err := s.points.Search(s.withAuth(ctx), &qdrantclient.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}
	matches := make([]catalog.Match, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		rec, mode := decodePayload(point.GetPayload())
		rec.ID = point.GetId().GetNum()
		matches = append(matches, catalog.Match{Record: rec, Mode: mode, Score: point.GetScore()})
	}
	return matches, nil
}

func encodePayload(p catalog.Point) map[string]*qdrantclient.Value {
	langs := make([]*qdrantclient.Value, 0, len(p.Record.SupportedLanguages))
	for _, l := range p.Record.SupportedLanguages {
		langs = append(langs, stringValue(l))
	}
	return map[string]*qdrantclient.Value{
		"department":     stringValue(p.Record.Department),
		"service_code":   stringValue(p.Record.ServiceCode),
		"sla_hours":      {Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(p.Record.SLAHours)}},
		"languages":      {Kind: &qdrantclient.Value_ListValue{ListValue: &qdrantclient.ListValue{Values: langs}}},
		"embedding_mode": stringValue(string(p.Mode)),
	}
}

func decodePayload(payload map[string]*qdrantclient.Value) (catalog.ServiceRecord, embedding.Mode) {
	rec := catalog.ServiceRecord{
		Department:  payload["department"].GetStringValue(),
		ServiceCode: payload["service_code"].GetStringValue(),
		SLAHours:    int(payload["sla_hours"].GetIntegerValue()),
	}
	for _, v := range payload["languages"].GetListValue().GetValues() {
		rec.SupportedLanguages = append(rec.SupportedLanguages, v.GetStringValue())
	}
	return rec, embedding.Mode(payload["embedding_mode"].GetStringValue())
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}
