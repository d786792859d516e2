package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-converter/internal/events"
	"media-converter/internal/handlers"
	"media-converter/internal/startup"
)

func TestNewPublisher(t *testing.T) {
	t.Run("no brokers", func(t *testing.T) {
		p := newPublisher(&startup.Config{})
		if _, ok := p.(events.Nop); !ok {
			t.Errorf("Expected events.Nop, got %T", p)
		}
	})

	t.Run("kafka", func(t *testing.T) {
		p := newPublisher(&startup.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "media"})
		defer p.Close()
		if _, ok := p.(*events.KafkaPublisher); !ok {
			t.Errorf("Expected *events.KafkaPublisher, got %T", p)
		}
	})
}

func TestMetricsServer(t *testing.T) {
	srv := newMetricsServer("0", &handlers.Handlers{})

	if srv.Addr != ":0" {
		t.Errorf("Addr = %q, want :0", srv.Addr)
	}

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "media_converter_") {
		t.Error("Expected media_converter_ metrics in the scrape")
	}

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("Expected /health status 200, got %d", w.Code)
	}
}
