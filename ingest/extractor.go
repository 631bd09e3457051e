package ingest

import (
	"context"
	"strings"

	"nudge-core/domain"
)

// LineExtractor is the fallback extractor when no language model is wired
// in. It splits the transcript into lines and proposes each as a plain
// note; action typing and due dates need a real model.
type LineExtractor struct{}

func (LineExtractor) Extract(ctx context.Context, transcript string) ([]domain.ExtractedTask, error) {
	var out []domain.ExtractedTask
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, domain.ExtractedTask{
			Content:      line,
			IsActionable: false,
			Priority:     string(domain.PriorityMedium),
		})
	}
	return out, nil
}
