package storage

import (
	"encoding/json"
	"fmt"

	"github.com/keshon/datastore"

	"gurtbot/internal/engine"
)

const (
	keyMemory        = "memory"
	keyRelationships = "relationships"
)

// Storage persists the engine's memory record and relationship scores in a
// single JSON file. It implements engine.Persister.
type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// Flush forces an immediate write to disk.
func (s *Storage) Flush() error {
	return s.ds.SaveToFile()
}

func (s *Storage) SaveMemory(rec engine.MemoryRecord) error {
	s.ds.Add(keyMemory, rec)
	return s.ds.SaveToFile()
}

func (s *Storage) LoadMemory() (engine.MemoryRecord, bool, error) {
	var rec engine.MemoryRecord
	ok, err := s.load(keyMemory, &rec)
	return rec, ok, err
}

func (s *Storage) SaveRelationships(rels map[string]engine.UserRelationship) error {
	s.ds.Add(keyRelationships, rels)
	return s.ds.SaveToFile()
}

func (s *Storage) LoadRelationships() (map[string]engine.UserRelationship, bool, error) {
	var rels map[string]engine.UserRelationship
	ok, err := s.load(keyRelationships, &rels)
	return rels, ok, err
}

// load reads a stored value back into out. The datastore hands values back
// as decoded JSON (maps and slices), so a marshal/unmarshal roundtrip
// restores the typed shape.
func (s *Storage) load(key string, out any) (bool, error) {
	data, exists := s.ds.Get(key)
	if !exists {
		return false, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("error marshalling %s data: %w", key, err)
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return false, fmt.Errorf("error unmarshalling %s data: %w", key, err)
	}
	return true, nil
}
