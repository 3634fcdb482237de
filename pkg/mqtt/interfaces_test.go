package mqtt

import (
	"context"
	"testing"

	"gpib-load-bridge/pkg/hp6060b"
)

// MockReadingPublisher demonstrates using only the ReadingPublisher interface
type MockReadingPublisher struct {
	publishedCount int
}

func (m *MockReadingPublisher) PublishInstrumentDiscovery(ctx context.Context, inst InstrumentInfo) error {
	m.publishedCount++
	return nil
}

func (m *MockReadingPublisher) PublishReading(ctx context.Context, inst InstrumentInfo, reading hp6060b.Reading) error {
	m.publishedCount++
	return nil
}

// TestInterfaceSegregation checks a consumer can depend on ReadingPublisher alone
func TestInterfaceSegregation(t *testing.T) {
	mock := &MockReadingPublisher{}

	useReadingPublisher := func(rp ReadingPublisher) error {
		return rp.PublishReading(context.Background(), InstrumentInfo{ID: "load1"}, hp6060b.Reading{})
	}

	if err := useReadingPublisher(mock); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if mock.publishedCount != 1 {
		t.Errorf("Expected 1 publish, got %d", mock.publishedCount)
	}
}
