package graphstore

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestEntityToMapRoundTripsProperties(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := Entity{
		ID:         "ent-1",
		Type:       "service",
		Name:       "billing-api",
		Properties: map[string]any{"region": "us-east-1"},
		CreatedAt:  created,
	}

	m := entityToMap(e)
	if m["id"] != e.ID || m["type"] != e.Type || m["name"] != e.Name {
		t.Fatalf("unexpected scalar fields in map: %+v", m)
	}
	if m["created_at"] != created.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected created_at encoding: %v", m["created_at"])
	}
	props, ok := m["properties"].(string)
	if !ok || props == "" {
		t.Fatalf("expected properties to be a non-empty JSON string, got %v", m["properties"])
	}
}

func TestEntityFromNodeDecodesPropertiesAndCreatedAt(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := Entity{
		ID:         "ent-2",
		Type:       "service",
		Name:       "auth-api",
		Properties: map[string]any{"region": "eu-west-1"},
		CreatedAt:  created,
	}
	m := entityToMap(e)

	got := entityFromNode(neo4j.Node{Props: m})
	if got.ID != e.ID || got.Type != e.Type || got.Name != e.Name {
		t.Fatalf("unexpected decoded entity: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, got.CreatedAt)
	}
	if region, _ := got.Properties["region"].(string); region != "eu-west-1" {
		t.Fatalf("expected decoded region eu-west-1, got %+v", got.Properties)
	}
}
