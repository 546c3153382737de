package fal

import (
	"context"
	"fmt"
	"hash/fnv"
)

// StubClient returns deterministic placeholder images for development.
type StubClient struct{}

// NewStubClient constructs StubClient.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// GenerateSceneImage returns a placeholder image keyed by the prompt.
func (s *StubClient) GenerateSceneImage(ctx context.Context, prompt string) (string, error) {
	return fmt.Sprintf("/static/img/placeholder.svg?p=%x", digest(prompt)), nil
}

func digest(v string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(v))
	return h.Sum32()
}
