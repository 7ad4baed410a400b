package bridge

import (
	"testing"
)

const benchPayload = `{"text":"hello world","processName":"kate","windowTitle":"doc.md - Kate","caret":{"x":412,"y":96,"width":2,"height":16,"valid":true}}`

// BenchmarkPublish measures enqueue cost with a live callback draining
// on the dispatch goroutine.
func BenchmarkPublish(b *testing.B) {
	br := New(100)
	if err := br.Start(); err != nil {
		b.Fatalf("start: %v", err)
	}
	defer br.Close()
	br.Bind(func(event, payload string) {})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		br.Publish("typingPaused", benchPayload)
	}
}

// BenchmarkPublishUnbound measures the no-destination fast path.
func BenchmarkPublishUnbound(b *testing.B) {
	br := New(100)
	if err := br.Start(); err != nil {
		b.Fatalf("start: %v", err)
	}
	defer br.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		br.Publish("typingPaused", benchPayload)
	}
}
